package authbridge

import (
	"context"
	"time"
)

// TransportAdapter performs a single HTTP exchange. It must not retry,
// refresh or otherwise interpret the response; the pipeline does that.
type TransportAdapter interface {
	ExecuteRequest(ctx context.Context, req *NormalizedRequest) (*NormalizedResponse, error)
}

// LogoutEvent tells the host application that the session is gone.
type LogoutEvent struct {
	Reason   error
	LoginURL string
	At       time.Time
}

// LogoutNotifier receives the forced-logout signal.
type LogoutNotifier interface {
	NotifyLoggedOut(ctx context.Context, event LogoutEvent)
}

// LogoutFunc adapts a plain function to LogoutNotifier.
type LogoutFunc func(ctx context.Context, event LogoutEvent)

func (f LogoutFunc) NotifyLoggedOut(ctx context.Context, event LogoutEvent) {
	f(ctx, event)
}
