package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservers(t *testing.T) {
	var o observers[int]
	var a, b []int

	unsubA := o.add(func(v int) { a = append(a, v) })
	o.add(func(v int) { b = append(b, v) })
	assert.Equal(t, 2, o.len())

	o.publish(1)
	unsubA()
	unsubA()
	o.publish(2)

	assert.Equal(t, []int{1}, a)
	assert.Equal(t, []int{1, 2}, b)
	assert.Equal(t, 1, o.len())
}

func TestObserversUnsubscribeDuringPublish(t *testing.T) {
	var o observers[int]
	calls := 0
	var unsub func()
	unsub = o.add(func(int) {
		calls++
		unsub()
	})
	o.add(func(int) { calls++ })

	o.publish(1)
	assert.Equal(t, 2, calls, "snapshot still delivers to both")
	o.publish(2)
	assert.Equal(t, 3, calls)
}
