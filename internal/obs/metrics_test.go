package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/metrics":                            "/metrics",
		"/v1/admin/submissions/01HX":          "/v1/admin/submissions/:id",
		"/v1/admin/submissions/01HX/extra":    "other",
		"/v1/admin/submissions/":              "other",
		"/v1/coupons/":                        "other",
		"/wp-admin/a1":                        "other",
		"/wp-admin/a2":                        "other",
		"/v1/partners/xyz":                    "other",
		"/v1/admin/events":                    "/v1/admin/events",
		"/v1/admin/submissions?analysis=safe": "/v1/admin/submissions",
		"/v1/coupons/ana10":                   "/v1/coupons/:code",
		"/v1/payments/status":                 "/v1/payments/status",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
