package services

import "testing"

func TestRequestFingerprintIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := RequestFingerprint("post", "/v1/entities/ledger", []byte(`{"fields":{"name":"Ops","code":"OPS"}}`))
	b := RequestFingerprint("POST", "/v1/entities/ledger", []byte("{ \"fields\" : {\"code\":\"OPS\", \"name\":\"Ops\"} }"))
	if a != b {
		t.Fatalf("expected canonical bodies to fingerprint equally")
	}
	if c := RequestFingerprint("POST", "/v1/entities/ledger", []byte(`{"fields":{"name":"Ops2","code":"OPS"}}`)); c == a {
		t.Fatalf("expected different body to change the fingerprint")
	}
	if d := RequestFingerprint("POST", "/v1/entities/project", []byte(`{"fields":{"name":"Ops","code":"OPS"}}`)); d == a {
		t.Fatalf("expected different path to change the fingerprint")
	}
}
