package telegram

import (
	"errors"
	"regexp"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"video_notifier/internal/domain"
)

var (
	errorCodeRe   = regexp.MustCompile(`\((\d+)\)$`)
	deactivatedRe = regexp.MustCompile(`(?i)group chat (is|was) deactivated|USER_DEACTIVATED|user is deactivated`)
	notFoundRe    = regexp.MustCompile(`(?i)chat not found|channel not found`)
	peerInvalidRe = regexp.MustCompile(`PEER_ID_INVALID`)
	badContentRe  = regexp.MustCompile(`(?i)failed to get HTTP URL content|wrong file identifier|wrong type of the web page content`)
)

var blockedErrors = []error{
	tele.ErrBlockedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrKickedFromChannel,
	tele.ErrNotStartedByUser,
}

// translateError turns a Bot API error into a *domain.DeliveryError.
func translateError(targetID string, err error) error {
	de := &domain.DeliveryError{
		Reason:      domain.ReasonUnknown,
		TargetID:    targetID,
		Description: err.Error(),
		Err:         err,
	}

	var groupErr tele.GroupError
	if errors.As(err, &groupErr) && groupErr.MigratedTo != 0 {
		de.Reason = domain.ReasonMigrated
		de.MigrateTo = strconv.FormatInt(groupErr.MigratedTo, 10)
		return de
	}

	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		de.Reason = domain.ReasonFlood
		return de
	}

	msg := err.Error()
	switch {
	case errors.Is(err, tele.ErrUserIsDeactivated) || deactivatedRe.MatchString(msg):
		de.Reason = domain.ReasonDeactivated
	case errors.Is(err, tele.ErrChatNotFound) || notFoundRe.MatchString(msg):
		de.Reason = domain.ReasonNotFound
	case isBlocked(err):
		de.Reason = domain.ReasonBlocked
	case peerInvalidRe.MatchString(msg):
		de.Reason = domain.ReasonPeerInvalid
	case errors.Is(err, tele.ErrBadURLContent) || badContentRe.MatchString(msg):
		de.Reason = domain.ReasonBadContent
	}
	return de
}

func isBlocked(err error) bool {
	for _, target := range blockedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return errorCode(err) == 403
}

func errorCode(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if m := errorCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}
