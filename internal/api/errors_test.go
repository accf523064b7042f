package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/qmatmul/internal/dispatch"
)

func TestErrorResponse(t *testing.T) {
	t.Parallel()

	cfgErr := &dispatch.ConfigError{Field: "blockNum", Detail: "got 0", Err: dispatch.ErrInvalidBlockNum}
	cases := []struct {
		name       string
		err        error
		wantStatus int
		want       ResponseError
	}{
		{
			name:       "invalid request",
			err:        newInvalidRequest("m must be positive"),
			wantStatus: http.StatusBadRequest,
			want:       ResponseError{Message: "m must be positive", Type: "invalid_request_error"},
		},
		{
			name:       "rate limited",
			err:        newRateLimited("launch rate exceeded"),
			wantStatus: http.StatusTooManyRequests,
			want:       ResponseError{Message: "launch rate exceeded", Type: "rate_limit_error", Code: "rate_limited"},
		},
		{
			name:       "refused launch",
			err:        refuseLaunch(fmt.Errorf("stage: %w", cfgErr)),
			wantStatus: http.StatusBadRequest,
			want: ResponseError{
				Message: "launch refused: stage: " + cfgErr.Error(),
				Type:    "invalid_request_error",
				Code:    "launch_refused",
				Param:   "blockNum",
			},
		},
		{
			name:       "execution failure",
			err:        refuseLaunch(errors.New("aic pipe panicked")),
			wantStatus: http.StatusInternalServerError,
			want:       ResponseError{Message: "aic pipe panicked", Type: "server_error"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, got := errorResponse(tc.err)
			if status != tc.wantStatus {
				t.Fatalf("status = %d, want %d", status, tc.wantStatus)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRefuseLaunchKeepsKinds(t *testing.T) {
	t.Parallel()

	err := refuseLaunch(&dispatch.ConfigError{Field: "M/N/K", Err: dispatch.ErrInvalidShape})
	for _, kind := range []error{ErrLaunchRefused, dispatch.ErrInvalidShape, dispatch.ErrConfiguration} {
		if !errors.Is(err, kind) {
			t.Fatalf("%v does not wrap %v", err, kind)
		}
	}
	var cfgErr *dispatch.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "M/N/K" {
		t.Fatalf("lost the config error: %v", err)
	}
	if errors.Is(newRateLimited("slow down"), ErrInvalidRequest) {
		t.Fatal("rate limited requests are not invalid requests")
	}
}
