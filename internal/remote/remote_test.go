package remote

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/resilience"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

type recordingComparator struct {
	got    match.CompareRequest
	traced bool
	result match.Result
	err    error
}

func (r *recordingComparator) Compare(ctx context.Context, req match.CompareRequest) (match.Result, error) {
	r.got = req
	_, r.traced = trace.FromContext(ctx)
	return r.result, r.err
}

func startServer(t *testing.T, cmp match.Comparator) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(cmp)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn, WithRetry(resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
}

func TestCompareRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	img.Set(2, 3, color.RGBA{R: 200, A: 255})
	cmp := &recordingComparator{result: match.Result{AsExpected: true, Difference: 2, Message: "close", NewBaseline: true}}
	client := startServer(t, cmp)

	res, err := client.Compare(context.Background(), match.CompareRequest{
		Screenshot:     img,
		Title:          "Checkout",
		Tag:            "step-1",
		IgnoreMismatch: true,
		Triggers:       []match.Trigger{{Kind: match.MouseTrigger, Action: "click", Location: geometry.Location{X: 3, Y: 4}}},
		Settings: match.ImageSettings{
			MatchLevel:    "strict",
			IgnoreRegions: []geometry.Rect[geometry.Context]{{Left: 1, Top: 2, Width: 3, Height: 4}},
		},
	})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res != cmp.result {
		t.Errorf("result = %+v, want %+v", res, cmp.result)
	}

	got := cmp.got
	if got.Tag != "step-1" || got.Title != "Checkout" || !got.IgnoreMismatch || got.Settings.MatchLevel != "strict" {
		t.Errorf("request fields = %+v", got)
	}
	if len(got.Settings.IgnoreRegions) != 1 || got.Settings.IgnoreRegions[0] != (geometry.Rect[geometry.Context]{Left: 1, Top: 2, Width: 3, Height: 4}) {
		t.Errorf("ignore regions = %v", got.Settings.IgnoreRegions)
	}
	if len(got.Triggers) != 1 || got.Triggers[0].Location != (geometry.Location{X: 3, Y: 4}) || got.Triggers[0].Action != "click" {
		t.Errorf("triggers = %+v", got.Triggers)
	}
	if got.Screenshot == nil || got.Screenshot.Bounds().Dx() != 6 {
		t.Fatalf("screenshot = %v", got.Screenshot)
	}
	if r, _, _, _ := got.Screenshot.At(2, 3).RGBA(); r>>8 != 200 {
		t.Errorf("pixel red = %d, want 200", r>>8)
	}
	if !cmp.traced {
		t.Error("server handler should run with a trace context")
	}
}

func TestCompareErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Code
	}{
		{name: "app error keeps its code", err: apperrors.New(apperrors.BaselineMissing, "none").WithMetadata("key", "home"), want: apperrors.BaselineMissing},
		{name: "plain error becomes comparator failure", err: errors.New("disk full"), want: apperrors.ComparatorFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startServer(t, &recordingComparator{err: tt.err})
			_, err := client.Compare(context.Background(), match.CompareRequest{Tag: "home"})
			if !apperrors.IsCode(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

type failingConn struct{ calls int }

func (f *failingConn) Invoke(context.Context, string, any, any, ...grpc.CallOption) error {
	f.calls++
	return apperrors.New(apperrors.Unavailable, "connection refused")
}

func (f *failingConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not supported")
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	conn := &failingConn{}
	client := NewClient(conn,
		WithRetry(resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		WithBreaker(resilience.New(resilience.Config{Threshold: 2, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})),
	)

	for range 2 {
		if _, err := client.Compare(context.Background(), match.CompareRequest{}); !apperrors.IsCode(err, apperrors.Unavailable) {
			t.Fatalf("err = %v, want UNAVAILABLE", err)
		}
	}
	if conn.calls != 4 {
		t.Errorf("invocations = %d, want 4 (two calls, one retry each)", conn.calls)
	}

	_, err := client.Compare(context.Background(), match.CompareRequest{})
	if !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v, want breaker open", err)
	}
	if conn.calls != 4 {
		t.Errorf("open breaker still invoked the comparator")
	}
}

func TestStateHookReportsTrip(t *testing.T) {
	var changes []resilience.State
	client := NewClient(&failingConn{},
		WithRetry(resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		WithBreaker(resilience.New(resilience.Config{Threshold: 1, ResetTimeout: time.Hour})),
		WithStateHook(func(_, to resilience.State) { changes = append(changes, to) }),
	)

	_, _ = client.Compare(context.Background(), match.CompareRequest{})
	if len(changes) != 1 || changes[0] != resilience.Open {
		t.Errorf("state changes = %v, want [open]", changes)
	}
}
