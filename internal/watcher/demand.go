package watcher

// demand keeps a shared resource alive while at least one retainer holds it.
// The resource is materialized on the 0→1 transition and released exactly
// once on the 1→0 transition; a later retain materializes a fresh resource.
//
// demand is not internally synchronized: every call happens with the owning
// Watcher's mutex held.
type demand struct {
	// acquire materializes the guarded resource and returns its releaser.
	acquire func() func()

	active  int
	release func()
}

func newDemand(acquire func() func()) *demand {
	return &demand{acquire: acquire}
}

// retain registers one more holder. The returned drop function is idempotent.
func (d *demand) retain() func() {
	if d.active == 0 && d.acquire != nil {
		d.release = d.acquire()
	}
	d.active++

	dropped := false
	return func() {
		if dropped {
			return
		}
		dropped = true
		d.active--
		if d.active > 0 {
			return
		}
		release := d.release
		d.release = nil
		if release != nil {
			release()
		}
	}
}

func (d *demand) idle() bool {
	return d.active == 0
}
