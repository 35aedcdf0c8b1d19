package tunnel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pkt.systems/tunnelchat/internal/mockapi"
	"pkt.systems/tunnelchat/schema"
)

func TestDirectLifecycle(t *testing.T) {
	srv := httptest.NewServer(mockapi.NewHandler(mockapi.Options{}))
	defer srv.Close()

	d := NewDirect(srv.URL+"/v1/", nil)
	handle, err := d.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if handle.BaseURL() != srv.URL+"/v1" {
		t.Fatalf("unexpected base url %q", handle.BaseURL())
	}
	if _, err := d.Open(context.Background()); !errors.Is(err, schema.ErrTunnelActive) {
		t.Fatalf("expected active error, got %v", err)
	}
	if err := d.Verify(context.Background(), handle); err != nil {
		t.Fatalf("verify: %v", err)
	}
	d.Close(handle)
	d.Close(handle)
	d.Close(nil)
	if err := d.Verify(context.Background(), handle); !errors.Is(err, schema.ErrTunnelClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestDirectVerifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewDirect(url+"/v1", nil)
	handle, err := d.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close(handle)
	var verifyErr *schema.VerifyError
	if err := d.Verify(context.Background(), handle); !errors.As(err, &verifyErr) || verifyErr.Err == nil {
		t.Fatalf("expected transport verify error, got %v", err)
	}
}
