package query

import (
	"context"

	"github.com/dirstack/adsync/internal/directory"
)

// fakeGateway implements directory.Gateway for tests. Search behavior
// is supplied per test; mutation methods record their calls.
type fakeGateway struct {
	searchFn      func(req *directory.SearchRequest) ([]directory.Record, error)
	searchPagedFn func(filter, baseDN string) ([]directory.Record, error)

	searches     []*directory.SearchRequest
	pagedFilters []string
}

func (f *fakeGateway) Bind(context.Context) error { return nil }
func (f *fakeGateway) Close() error               { return nil }

func (f *fakeGateway) Search(_ context.Context, req *directory.SearchRequest) ([]directory.Record, error) {
	f.searches = append(f.searches, req)
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(req)
}

func (f *fakeGateway) SearchPaged(_ context.Context, filter, baseDN string, _ []string) ([]directory.Record, error) {
	f.pagedFilters = append(f.pagedFilters, filter)
	if f.searchPagedFn == nil {
		return nil, nil
	}
	return f.searchPagedFn(filter, baseDN)
}

func (f *fakeGateway) Authenticate(context.Context, string, string) *directory.AuthResult {
	return &directory.AuthResult{Status: directory.AuthOK}
}

func (f *fakeGateway) Add(context.Context, string, map[string][]string) error    { return nil }
func (f *fakeGateway) Update(context.Context, string, map[string][]string) error { return nil }
func (f *fakeGateway) ModifyBatch(context.Context, string, []directory.BatchOp) error {
	return nil
}
func (f *fakeGateway) Delete(context.Context, string, bool) error       { return nil }
func (f *fakeGateway) Move(context.Context, string, string, bool) error { return nil }
func (f *fakeGateway) ChangePassword(context.Context, string, string, string) error {
	return nil
}
func (f *fakeGateway) ResetPassword(context.Context, string, string) error { return nil }
func (f *fakeGateway) DefaultBaseDN(context.Context) (string, error) {
	return "DC=example,DC=com", nil
}

func rec(dn string, pairs ...string) directory.Record {
	r := directory.Record{"dn": dn}
	for i := 0; i+1 < len(pairs); i += 2 {
		r[pairs[i]] = pairs[i+1]
	}
	return r
}
