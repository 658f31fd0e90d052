package devidp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/pin"
	"github.com/wastehub/onboard/session"
)

const (
	testPhone  = "6281234567890"
	testDevice = "device-1"
	testAdmin  = "ops@wastehub.id"
	testPIN    = "135790"
)

// outbox records every delivered code.
type outbox struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (o *outbox) Deliver(_ context.Context, d Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliveries = append(o.deliveries, d)
	return nil
}

func (o *outbox) last(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.deliveries) == 0 {
		t.Fatal("no code delivered")
	}
	return o.deliveries[len(o.deliveries)-1].Code
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.deliveries)
}

type harness struct {
	*Provider
	outbox *outbox
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PIN.Hash = pin.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Administrators = []string{testAdmin}
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	ob := &outbox{}
	p, err := New(rdb, cfg, nil, ob)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := p.SeedAdministrators(context.Background()); err != nil {
		t.Fatalf("SeedAdministrators failed: %v", err)
	}
	return &harness{Provider: p, outbox: ob, mr: mr, rdb: rdb}
}

// sequence makes the provider issue the given codes in order.
func (h *harness) sequence(codes ...string) {
	var mu sync.Mutex
	h.newCode = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(codes) == 0 {
			return "", errors.New("code sequence exhausted")
		}
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
}

func (h *harness) login(t *testing.T, role session.Role, contact string) idp.TokenBundle {
	t.Helper()
	ctx := context.Background()

	req := idp.OTPRequest{Role: role, DeviceID: testDevice}
	ver := idp.OTPVerification{Role: role, DeviceID: testDevice}
	if role == session.RoleAdministrator {
		req.Email, ver.Email = contact, contact
	} else {
		req.Phone, ver.Phone = contact, contact
	}

	if _, err := h.RequestOTP(ctx, req); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	ver.OTP = h.outbox.last(t)
	bundle, err := h.VerifyOTP(ctx, ver)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	return bundle
}

func (h *harness) pendingID(t *testing.T, adminToken string) string {
	t.Helper()
	list, err := h.Accounts(context.Background(), adminToken, "")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one pending account, got %+v %v", list, err)
	}
	return list[0].ID
}

// onboarded drives a facility manager through to a complete account and
// returns the final bundle.
func (h *harness) onboarded(t *testing.T, phone string) idp.TokenBundle {
	t.Helper()
	ctx := context.Background()

	b := h.login(t, session.RoleFacilityManager, phone)
	b, err := h.CreateCompanyProfile(ctx, b.Tokens.AccessToken, fullProfile())
	if err != nil {
		t.Fatalf("CreateCompanyProfile: %v", err)
	}

	admin := h.login(t, session.RoleAdministrator, testAdmin)
	if _, err := h.Approve(ctx, admin.Tokens.AccessToken, h.pendingID(t, admin.Tokens.AccessToken)); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	b, err = h.CreatePIN(ctx, b.Tokens.AccessToken, testPIN)
	if err != nil {
		t.Fatalf("CreatePIN: %v", err)
	}
	return b
}

func fullProfile() idp.CompanyProfile {
	return idp.CompanyProfile{
		CompanyName:  "PT Bersih Lestari",
		CompanyType:  "pt",
		Address:      "Jl. Merdeka 10",
		Province:     "Jawa Barat",
		City:         "Bandung",
		PostalCode:   "40111",
		CompanyPhone: "62227654321",
		CompanyEmail: "info@bersih.co.id",
		Website:      "https://bersih.co.id",
		FoundedDate:  "2015-06-01",
		TaxID:        "012345678901000",
		Description:  "Waste bank operator",
	}
}

func expectKind(t *testing.T, err error, kind idp.Kind) *idp.Error {
	t.Helper()
	var e *idp.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *idp.Error of kind %s, got %v", kind, err)
	}
	if e.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, e.Kind, err)
	}
	return e
}

func phone(n int) string {
	return fmt.Sprintf("62812000000%02d", n)
}
