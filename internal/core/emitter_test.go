package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitterDeliversInSubscriptionOrder(t *testing.T) {
	var e Emitter[int]
	var got []int

	e.Subscribe(func(v int) { got = append(got, v) })
	e.Subscribe(func(v int) { got = append(got, v*10) })

	e.Emit(7)
	require.Equal(t, []int{7, 70}, got)
}

func TestEmitterUnsubscribe(t *testing.T) {
	var e Emitter[string]
	var got []string

	unsub := e.Subscribe(func(v string) { got = append(got, "a:"+v) })
	e.Subscribe(func(v string) { got = append(got, "b:"+v) })

	unsub()
	unsub() // second call is harmless

	e.Emit("x")
	require.Equal(t, []string{"b:x"}, got)
}

func TestEmitterUnsubscribeDuringEmit(t *testing.T) {
	var e Emitter[struct{}]
	var calls int

	var unsub func()
	unsub = e.Subscribe(func(struct{}) {
		calls++
		unsub()
	})

	e.Emit(struct{}{})
	e.Emit(struct{}{})
	require.Equal(t, 1, calls)
}

func TestEmitterNoSubscribers(t *testing.T) {
	var e Emitter[int]
	e.Emit(1)
}
