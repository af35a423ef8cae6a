package payment

import (
	"net/url"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func testGateway() *VNPay {
	loc, _ := time.LoadLocation("Asia/Ho_Chi_Minh")
	return NewVNPay(Config{
		TmnCode:    "TESTTMN1",
		HashSecret: "SECRETKEY123",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "http://localhost:8080/api/v1/payments/vnpay/callback",
		Location:   loc,
	})
}

func signedParams(t *testing.T, g *VNPay) url.Values {
	t.Helper()
	raw, err := g.BuildRedirect(Order{
		ReservationID: "3f2b8c1e-0c57-4c1a-9c43-5a0f7e1d2b90",
		Amount:        300000,
		ClientIP:      "10.0.0.7",
		CreatedAt:     time.Date(2025, 6, 1, 1, 2, 3, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("BuildRedirect: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	return u.Query()
}

func TestBuildRedirectParams(t *testing.T) {
	g := testGateway()
	q := signedParams(t, g)

	want := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    "TESTTMN1",
		"vnp_CurrCode":   "VND",
		"vnp_OrderInfo":  "BOOKING#3f2b8c1e-0c57-4c1a-9c43-5a0f7e1d2b90",
		"vnp_Amount":     "30000000",
		"vnp_IpAddr":     "10.0.0.7",
		"vnp_CreateDate": "20250601080203",
		"vnp_TxnRef":     "3f2b8c1e-0c57-4c1a-9c43-5a0f7e1d2b90_080203",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if len(q.Get(ParamSecureHash)) != 128 {
		t.Errorf("expected 128 hex chars of HMAC-SHA512, got %d", len(q.Get(ParamSecureHash)))
	}
}

func TestCanonicalIsSortedAndUnescaped(t *testing.T) {
	params := url.Values{}
	params.Set("vnp_b", "x y")
	params.Set("vnp_a", "BOOKING#1")
	params.Set(ParamSecureHash, "ignored")
	params.Set(ParamSecureHashType, "SHA512")

	got := Canonical(params)
	want := "vnp_a=BOOKING#1&vnp_b=x y"
	if got != want {
		t.Fatalf("Canonical = %q, want %q", got, want)
	}
}

func TestVerifyCallback(t *testing.T) {
	g := testGateway()

	t.Run("valid", func(t *testing.T) {
		if !g.VerifyCallback(signedParams(t, g)) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("hash type is ignored", func(t *testing.T) {
		q := signedParams(t, g)
		q.Set(ParamSecureHashType, "HmacSHA512")
		if !g.VerifyCallback(q) {
			t.Fatal("vnp_SecureHashType must not be part of the signed data")
		}
	})

	t.Run("missing hash", func(t *testing.T) {
		q := signedParams(t, g)
		q.Del(ParamSecureHash)
		if g.VerifyCallback(q) {
			t.Fatal("expected rejection without signature")
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		q := signedParams(t, g)
		unconfigured := NewVNPay(Config{})
		if unconfigured.VerifyCallback(q) {
			t.Fatal("expected rejection when secret is not configured")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		q := signedParams(t, g)
		other := NewVNPay(Config{HashSecret: "another"})
		if other.VerifyCallback(q) {
			t.Fatal("expected rejection with a different secret")
		}
	})
}

func TestVerifyCallbackRejectsSingleByteTamper(t *testing.T) {
	g := testGateway()
	base := signedParams(t, g)

	for key := range base {
		value := base.Get(key)
		for i := 0; i < len(value); i++ {
			q := cloneValues(base)
			b := []byte(value)
			b[i] ^= 0x01
			q.Set(key, string(b))
			if g.VerifyCallback(q) {
				t.Fatalf("tampered %s at byte %d still verified", key, i)
			}
		}

		if key == ParamSecureHash {
			continue
		}
		for i := 0; i < len(key); i++ {
			q := cloneValues(base)
			b := []byte(key)
			b[i] ^= 0x01
			q.Del(key)
			q.Set(string(b), value)
			if g.VerifyCallback(q) {
				t.Fatalf("renamed key %s at byte %d still verified", key, i)
			}
		}
	}
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func TestParseOrderReference(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "BOOKING#abc-123", want: "abc-123"},
		{in: "BOOKING#", wantErr: true},
		{in: "BOOKING", wantErr: true},
		{in: "ORDER#abc", wantErr: true},
		{in: "BOOKING#a#b", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseOrderReference(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestIsSuccess(t *testing.T) {
	ok := url.Values{ParamResponseCode: {"00"}}
	if !IsSuccess(ok) {
		t.Error("00 should be success")
	}
	if IsSuccess(url.Values{ParamResponseCode: {"24"}}) {
		t.Error("24 should not be success")
	}
	if IsSuccess(url.Values{ParamResponseCode: {"00"}, ParamTxnStatus: {"02"}}) {
		t.Error("a failed transaction status should not be success")
	}
}

func TestBuildRedirectNotConfigured(t *testing.T) {
	_, err := NewVNPay(Config{HashSecret: "x"}).BuildRedirect(Order{ReservationID: "1"})
	if err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestMinorUnitsFloors(t *testing.T) {
	if got := MinorUnits(1234.567); got != 123456 {
		t.Fatalf("MinorUnits = %d", got)
	}
	if !strings.HasPrefix(OrderReference("x"), OrderPrefix+"#") {
		t.Fatal("order reference must start with the prefix")
	}
}
