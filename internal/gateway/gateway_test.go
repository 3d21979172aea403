package gateway

import (
	"context"
	"testing"
	"time"

	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{exception.ErrGatewayRejected, KindPermanent},
		{exception.ErrGatewayRateLimited, KindTransient},
		{exception.ErrGatewayUnavailable, KindTransient},
		{exception.ErrGatewayTimeout, KindUnknownOutcome},
		{context.DeadlineExceeded, KindUnknownOutcome},
		{errors.Wrap(exception.ErrGatewayRejected, "submit"), KindPermanent},
		{errors.New("connection reset"), KindTransient},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("classify %v: got %d want %d", c.err, got, c.want)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	if Backoff(0) != baseDelay {
		t.Fatalf("retry 0: got %v", Backoff(0))
	}
	if Backoff(1) != 2*baseDelay {
		t.Fatalf("retry 1: got %v", Backoff(1))
	}
	if Backoff(40) != maxDelay {
		t.Fatalf("retry 40: got %v", Backoff(40))
	}
	if Backoff(-1) != baseDelay {
		t.Fatalf("negative retry: got %v", Backoff(-1))
	}
	if Backoff(10) > 10*time.Second {
		t.Fatalf("uncapped backoff: %v", Backoff(10))
	}
}
