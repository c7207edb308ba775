package membership

import "errors"

var ErrFailedToListMemberships = errors.New("failed to list memberships")
