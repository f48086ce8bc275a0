// Package gpu declares the abstract GPU resource contracts the core touches:
// a device/queue handle pair shared by every processor, and a single tagged
// handle type standing in for whatever multi-backend native resource a
// platform collaborator actually holds. The core never touches shader code
// or backend-native types; it only ever sees these interfaces.
package gpu

// Device is an opaque, clonable reference to a GPU device. Conversion to a
// backend-native type happens entirely outside the core.
type Device interface {
	// Name is a human-readable device identifier, useful for logs/metrics.
	Name() string
}

// Queue is an opaque, clonable reference to a GPU command queue. Command
// submission from multiple processors is concurrent; the driver serializes
// internally.
type Queue interface {
	Device() Device
}

// Descriptor identifies the bucket a texture belongs to: width, height,
// pixel format and usage flags.
type Descriptor struct {
	Width, Height int
	Format        string
	Usage         string
}

// HandleKind tags which native resource a Handle actually wraps, per the
// Design Notes' "single handle type with an internal tagged variant"
// guidance — downcasting across GPU backends disappears because the core
// only ever branches on this tag, never on a concrete Go type.
type HandleKind int

const (
	NativeTexture HandleKind = iota
	PooledSlot
	SharedSurface
)

// Handle is a reference-counted borrow of a GPU resource. Release runs the
// backend-specific action exactly once, however many times Release is
// called.
type Handle interface {
	Kind() HandleKind
	Descriptor() Descriptor
	// Release returns the resource to wherever it came from (a pool slot,
	// a native free, a cross-process surface broker). Idempotent.
	Release()
}

// TexturePool is the narrow surface processors and the runtime context see;
// implemented by internal/texturepool.Pool.
type TexturePool interface {
	Acquire(desc Descriptor) (Handle, error)
	Stats() PoolStats
}

// PoolStats mirrors the statistics §4.9 requires be observable.
type PoolStats struct {
	TotalSlots     int
	InUseSlots     int
	AvailableSlots int
	BucketCount    int
}
