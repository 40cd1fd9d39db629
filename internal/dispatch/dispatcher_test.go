package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/medport-labs/medvoice-core/internal/config"
	"github.com/medport-labs/medvoice-core/internal/identity"
	"github.com/medport-labs/medvoice-core/internal/intent"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) Navigate(route string) {
	n.mu.Lock()
	n.routes = append(n.routes, route)
	n.mu.Unlock()
}

func newTestDispatcher(endpoint string) (*Dispatcher, *recordingNavigator) {
	client := NewActionClient(config.ActionsConfig{Endpoint: endpoint, TimeoutMS: 2000})
	nav := &recordingNavigator{}
	return NewDispatcher(client, nav, discardLogger()), nav
}

func TestDispatchUnresolved(t *testing.T) {
	d, _ := newTestDispatcher("http://localhost:9/actions")
	in := intent.Intent{Command: intent.CommandUnresolved, RawText: "xyzzy"}
	result := d.Dispatch(context.Background(), in, &identity.AuthContext{Token: "t", UserID: "u"})
	if result.Success {
		t.Fatal("unresolved intent must not succeed")
	}
	if result.Message == "" {
		t.Fatal("unresolved intent must carry a spoken message")
	}
}

func TestDispatchNavigate(t *testing.T) {
	d, nav := newTestDispatcher("http://localhost:9/actions")
	in := intent.Intent{
		Command: intent.CommandNavigate,
		Slots: map[string]string{
			intent.SlotTarget: "invoices",
			intent.SlotRoute:  "/billing/invoices",
		},
		RawText: "navigate to billing",
	}
	result := d.Dispatch(context.Background(), in, &identity.AuthContext{Token: "t", UserID: "u"})
	if !result.Success {
		t.Fatalf("navigate should succeed, got %q", result.Message)
	}
	if result.Message != "Opening invoices." {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if len(nav.routes) != 1 || nav.routes[0] != "/billing/invoices" {
		t.Fatalf("unexpected navigation %v", nav.routes)
	}
}

func TestDispatchNavigateRequiresAuth(t *testing.T) {
	d, nav := newTestDispatcher("http://localhost:9/actions")
	in := intent.Intent{
		Command: intent.CommandNavigate,
		Slots:   map[string]string{intent.SlotRoute: "/dashboard", intent.SlotTarget: "dashboard"},
	}
	result := d.Dispatch(context.Background(), in, nil)
	if result.Success {
		t.Fatal("navigate without auth must fail")
	}
	if len(nav.routes) != 0 {
		t.Fatalf("unauthenticated navigate must not move, got %v", nav.routes)
	}
}

func TestDispatchRemoteSuccess(t *testing.T) {
	var gotAuth string
	var gotReq actionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(actionResponse{Reply: "Appointment booked"})
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL)
	in := intent.Intent{
		Command: intent.CommandBookAppointment,
		Slots:   map[string]string{intent.SlotDetails: "for tomorrow"},
		RawText: "book an appointment for tomorrow",
	}
	result := d.Dispatch(context.Background(), in, &identity.AuthContext{Token: "jwt-token", UserID: "user-7"})
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if result.Message != "Appointment booked" {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if gotAuth != "Bearer jwt-token" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotReq.Command != "book_appointment" || gotReq.UserID != "user-7" {
		t.Fatalf("unexpected request %+v", gotReq)
	}
	if gotReq.Parsed["details"] != "for tomorrow" {
		t.Fatalf("slots not forwarded: %v", gotReq.Parsed)
	}
}

func TestDispatchRemoteRequiresToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL)
	in := intent.Intent{Command: intent.CommandBookAppointment}

	if result := d.Dispatch(context.Background(), in, nil); result.Success {
		t.Fatal("remote command without identity must fail")
	}
	if result := d.Dispatch(context.Background(), in, &identity.AuthContext{UserID: "u"}); result.Success {
		t.Fatal("remote command without token must fail")
	}
	if called {
		t.Fatal("endpoint must not be called without credentials")
	}
}

func TestDispatchRemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(actionResponse{Error: "No available slots tomorrow"})
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL)
	in := intent.Intent{Command: intent.CommandBookAppointment}
	result := d.Dispatch(context.Background(), in, &identity.AuthContext{Token: "t", UserID: "u"})
	if result.Success {
		t.Fatal("server error must fail the dispatch")
	}
	if result.Message != "No available slots tomorrow" {
		t.Fatalf("server message should be preserved, got %q", result.Message)
	}
}

func TestDispatchRemoteTransportError(t *testing.T) {
	d, _ := newTestDispatcher("http://localhost:1/unreachable")
	in := intent.Intent{Command: intent.CommandRefillPrescription}
	result := d.Dispatch(context.Background(), in, &identity.AuthContext{Token: "t", UserID: "u"})
	if result.Success {
		t.Fatal("transport error must fail the dispatch")
	}
	if result.Message != msgGenericErr {
		t.Fatalf("transport failures get the generic message, got %q", result.Message)
	}
}

func TestDispatchRemoteEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(actionResponse{})
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL)
	in := intent.Intent{Command: intent.CommandAddMedication}
	result := d.Dispatch(context.Background(), in, &identity.AuthContext{Token: "t", UserID: "u"})
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if result.Message != "Done." {
		t.Fatalf("empty reply should fall back to a confirmation, got %q", result.Message)
	}
}

func TestDispatchHelp(t *testing.T) {
	d, _ := newTestDispatcher("http://localhost:9/actions")
	result := d.Dispatch(context.Background(), intent.Intent{Command: intent.CommandHelp}, nil)
	if !result.Success || result.Message == "" {
		t.Fatalf("help must succeed with a message, got %+v", result)
	}
}
