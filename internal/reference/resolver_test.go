package reference

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type stubLookup struct {
	mu     sync.Mutex
	fields DisplayFields
	values map[string]string
	err    error
	calls  int
}

func (s *stubLookup) DisplayFieldConfig(_ context.Context, table, field string) (string, bool, error) {
	df, ok := s.fields.Lookup(table, field)
	return df, ok, nil
}

func (s *stubLookup) ResolveDisplayValue(_ context.Context, target, key, displayField string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[target+"/"+key+"/"+displayField]
	return v, ok, nil
}

func newStubLookup() *stubLookup {
	s := &stubLookup{fields: DisplayFields{}, values: map[string]string{}}
	s.fields.Set("crm.Order", "customer", "customer_name")
	s.values["crm.Customer/CUST-0007/customer_name"] = "Acme Co"
	return s
}

func TestResolver_CachesSuccess(t *testing.T) {
	svc := newStubLookup()
	r := NewResolver(svc, 16, nil)

	for i := 0; i < 3; i++ {
		v, ok := r.Display(context.Background(), "crm.Order", "customer", "crm.Customer", "CUST-0007")
		assert.True(t, ok)
		assert.Equal(t, "Acme Co", v)
	}
	assert.Equal(t, 1, svc.calls)

	r.Forget("crm.Customer", "CUST-0007")
	r.Display(context.Background(), "crm.Order", "customer", "crm.Customer", "CUST-0007")
	assert.Equal(t, 2, svc.calls)

	r.Purge()
	r.Display(context.Background(), "crm.Order", "customer", "crm.Customer", "CUST-0007")
	assert.Equal(t, 3, svc.calls)
}

func TestResolver_FallsBackSilently(t *testing.T) {
	svc := newStubLookup()
	r := NewResolver(svc, 0, nil)

	_, ok := r.Display(context.Background(), "crm.Order", "seller", "crm.Customer", "CUST-0007")
	assert.False(t, ok, "no display field configured")
	assert.Equal(t, 0, svc.calls)

	_, ok = r.Display(context.Background(), "crm.Order", "customer", "crm.Customer", "CUST-404")
	assert.False(t, ok, "record without value")

	_, ok = r.Display(context.Background(), "crm.Order", "customer", "crm.Customer", "")
	assert.False(t, ok, "empty key")

	svc.err = errors.New("timeout")
	_, ok = r.Display(context.Background(), "crm.Order", "customer", "crm.Customer", "CUST-0007")
	assert.False(t, ok)
	svc.err = nil
	v, ok := r.Display(context.Background(), "crm.Order", "customer", "crm.Customer", "CUST-0007")
	assert.True(t, ok, "failures are not cached")
	assert.Equal(t, "Acme Co", v)
}
