package youtube

// ActivitiesResponse is a page of the activities.list endpoint.
type ActivitiesResponse struct {
	Items         []Activity `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

type Activity struct {
	Snippet *Snippet `json:"snippet"`
}

type Snippet struct {
	PublishedAt  string               `json:"publishedAt"`
	ChannelID    string               `json:"channelId"`
	Title        string               `json:"title"`
	ChannelTitle string               `json:"channelTitle"`
	Type         string               `json:"type"`
	Thumbnails   map[string]Thumbnail `json:"thumbnails"`
}

type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
