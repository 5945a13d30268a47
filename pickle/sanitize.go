package pickle

import "fmt"

// Mailman keeps transient state in these top-level attributes.
const (
	BounceInfoKey = "bounce_info"
	EvictionsKey  = "evictions"
)

// Sanitize drops transient list state from a decoded top-level dict:
// bounce_info becomes empty, and every cookie listed in evictions is removed
// from the top level before evictions itself is emptied. Other values are
// returned unchanged.
func Sanitize(v interface{}) interface{} {
	d, ok := v.(*Dict)
	if !ok {
		return v
	}

	if _, ok := d.Get(BounceInfoKey); ok {
		d.Set(BounceInfoKey, NewDict())
	}

	if ev, ok := d.Get(EvictionsKey); ok {
		if evictions, ok := ev.(*Dict); ok {
			for _, cookie := range evictions.Keys() {
				d.Delete(cookie)
			}
		}
		d.Set(EvictionsKey, NewDict())
	}

	return d
}

// Select returns a new dict holding only keys of the top-level dict v, in
// the order given.
func Select(v interface{}, keys []string) (*Dict, error) {
	d, ok := v.(*Dict)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotDict, v)
	}
	out := NewDict()
	for _, k := range keys {
		val, ok := d.Get(k)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingKey, k)
		}
		out.Set(k, val)
	}
	return out, nil
}
