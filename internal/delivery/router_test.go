package delivery

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/veilmsg/veil/internal/model"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Path
	}{
		{"sms", PathSMS},
		{"email", PathEmail},
		{"SMS", PathSMS},
		{" Email ", PathEmail},
		{"send_email", PathEmail},
		{"send_sms", PathSMS},
		{"carrier_pigeon", Path("carrier_pigeon")},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolvePathsIntersection(t *testing.T) {
	full := model.Contact{PhoneNumber: "+5511999", Email: "a@b.c"}
	emailOnly := model.Contact{Email: "a@b.c"}
	both := []Path{PathSMS, PathEmail}

	cases := []struct {
		name    string
		contact model.Contact
		policy  []Path
		enabled []Path
		want    []Path
	}{
		{"all three agree", full, both, both, []Path{PathEmail, PathSMS}},
		{"contact limits", emailOnly, both, both, []Path{PathEmail}},
		{"policy limits", full, []Path{PathSMS}, both, []Path{PathSMS}},
		{"user limits", full, both, []Path{PathEmail}, []Path{PathEmail}},
		{"nothing enabled", full, both, nil, nil},
		{"no contact fields", model.Contact{}, both, both, nil},
		{"aliases in policy", full, []Path{"send_email"}, both, []Path{PathEmail}},
		{"duplicates collapse", full, both, []Path{PathSMS, PathSMS}, []Path{PathSMS}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolvePaths(tc.contact, tc.policy, tc.enabled)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ResolvePaths() = %v, want %v", got, tc.want)
			}
		})
	}
}

type recordingTransport struct {
	sms    []string
	emails []string
	images []string
	err    error
}

func (r *recordingTransport) SendSMS(_ context.Context, to, _ string) error {
	r.sms = append(r.sms, to)
	return r.err
}

func (r *recordingTransport) SendEmail(_ context.Context, to, _, _ string) error {
	r.emails = append(r.emails, to)
	return r.err
}

func (r *recordingTransport) SendEmailWithImage(_ context.Context, to, _ string, _ []byte, _ string) error {
	r.images = append(r.images, to)
	return r.err
}

func TestDispatchRoutesByPath(t *testing.T) {
	tr := &recordingTransport{}
	router := NewRouter(tr, nil)
	contact := model.Contact{PhoneNumber: "+5511999", Email: "a@b.c"}

	if res := router.Dispatch(context.Background(), PathSMS, contact, "x"); !res.Accepted {
		t.Errorf("sms dispatch = %+v, want accepted", res)
	}
	if res := router.Dispatch(context.Background(), PathEmail, contact, "x"); !res.Accepted {
		t.Errorf("email dispatch = %+v, want accepted", res)
	}
	if len(tr.sms) != 1 || len(tr.emails) != 1 {
		t.Errorf("transport calls = sms:%d email:%d, want 1 each", len(tr.sms), len(tr.emails))
	}
}

func TestDispatchFailureIsAValue(t *testing.T) {
	tr := &recordingTransport{err: fmt.Errorf("unreachable")}
	router := NewRouter(tr, nil)

	res := router.Dispatch(context.Background(), PathSMS, model.Contact{PhoneNumber: "+1"}, "x")
	if res.Accepted || res.Err == nil {
		t.Errorf("result = %+v, want rejected with error", res)
	}
}

func TestDispatchUnknownPath(t *testing.T) {
	router := NewRouter(&recordingTransport{}, nil)
	res := router.Dispatch(context.Background(), Path("fax"), model.Contact{}, "x")
	if res.Accepted {
		t.Error("unknown path was accepted")
	}
}

type stubChecker struct {
	paths []string
	err   error
}

func (s *stubChecker) CheckAvailablePaths(context.Context, string, string, string) ([]string, error) {
	return s.paths, s.err
}

func TestResolverAppliesPolicy(t *testing.T) {
	contact := model.Contact{PhoneNumber: "+5511999", Email: "a@b.c"}
	enabled := []Path{PathSMS, PathEmail}

	r := NewResolver(&stubChecker{paths: []string{"email"}}, "BR", enabled, nil)
	if got := r.Resolve(context.Background(), contact); !reflect.DeepEqual(got, []Path{PathEmail}) {
		t.Errorf("Resolve() = %v, want [email]", got)
	}
}

func TestResolverUnrestrictedOnCheckFailure(t *testing.T) {
	contact := model.Contact{PhoneNumber: "+5511999", Email: "a@b.c"}
	enabled := []Path{PathSMS, PathEmail}

	r := NewResolver(&stubChecker{err: fmt.Errorf("backend down")}, "BR", enabled, nil)
	got := r.Resolve(context.Background(), contact)
	if !reflect.DeepEqual(got, []Path{PathEmail, PathSMS}) {
		t.Errorf("Resolve() = %v, want both paths on policy failure", got)
	}
}
