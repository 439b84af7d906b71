package form

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalitaforms/internal/reference"
)

func TestSession_SwitchCancelsPreviousContext(t *testing.T) {
	s := NewSession(context.Background())

	ctx1, gen1 := s.Switch("crm.Order", "ORD-1")
	same, genSame := s.Switch("crm.Order", "ORD-1")
	assert.Equal(t, gen1, genSame)
	assert.Equal(t, ctx1, same)
	assert.True(t, s.Current(gen1))

	_, gen2 := s.Switch("crm.Order", "ORD-2")
	assert.NotEqual(t, gen1, gen2)
	assert.Error(t, ctx1.Err())
	assert.False(t, s.Current(gen1))
	assert.True(t, s.Current(gen2))

	table, rec := s.Active()
	assert.Equal(t, "crm.Order", table)
	assert.Equal(t, "ORD-2", rec)
}

func TestSession_PickersAreDisposedOnSwitch(t *testing.T) {
	s := NewSession(context.Background())
	s.Switch("crm.Order", "ORD-1")

	builds := 0
	build := func(ctx context.Context) *reference.Picker {
		builds++
		return reference.NewPicker(ctx, reference.PickerConfig{Field: "customer", Target: "crm.Customer"}, nil, nil, nil)
	}
	p1 := s.Picker("customer", build)
	assert.Same(t, p1, s.Picker("customer", build))
	assert.Equal(t, 1, builds)

	s.Switch("crm.Order", "ORD-2")
	p2 := s.Picker("customer", build)
	assert.NotSame(t, p1, p2)
	assert.Equal(t, 2, builds)

	// пикер прежнего контекста больше ничего не запускает
	p1.Focus()
	assert.False(t, p1.State().Open)
}

func TestSessionManager(t *testing.T) {
	m := NewSessionManager(50 * time.Millisecond)
	s := m.Create(context.Background())
	require.NotNil(t, m.Get(s.ID))
	assert.Nil(t, m.Get("nope"))

	time.Sleep(80 * time.Millisecond)
	m.Cleanup()
	assert.Nil(t, m.Get(s.ID))
}
