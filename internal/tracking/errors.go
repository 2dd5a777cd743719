package tracking

import "errors"

var (
	// ErrSessionAlreadyActive is returned by OpenSession when the route is
	// already being tracked.
	ErrSessionAlreadyActive = errors.New("tracking session already active")

	// ErrNoSuchSession is returned when a route has no open session.
	ErrNoSuchSession = errors.New("no tracking session for route")

	// ErrSessionFinished is returned for updates arriving after the
	// finishing update. Late updates are discarded, never forwarded.
	ErrSessionFinished = errors.New("tracking session finished")

	// ErrDuplicateObservation is returned by Attach when the observer is
	// already attached to the route.
	ErrDuplicateObservation = errors.New("observer already attached to route")

	// ErrUnknownRoute is returned by OpenSession when the route source has
	// no record for the route.
	ErrUnknownRoute = errors.New("unknown route")

	// ErrMalformedUpdate marks updates with missing fields or non-finite
	// coordinates. They are logged and dropped at the ingress boundary.
	ErrMalformedUpdate = errors.New("malformed position update")
)
