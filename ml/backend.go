package ml

import (
	"fmt"
	"log/slog"
	"strings"
)

type DeviceType int

const (
	DeviceTypeCPU DeviceType = iota
	DeviceTypeGPU
	DeviceTypeAccel
)

func (d DeviceType) String() string {
	switch d {
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeGPU:
		return "gpu"
	case DeviceTypeAccel:
		return "accel"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(d))
	}
}

func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return DeviceTypeCPU, nil
	case "gpu":
		return DeviceTypeGPU, nil
	case "accel":
		return DeviceTypeAccel, nil
	default:
		return 0, fmt.Errorf("ml: unknown device type %q", s)
	}
}

type DeviceInfo struct {
	Name        string
	Description string
	Type        DeviceType
}

// Device is a compute device that can create backends.
type Device interface {
	Info() DeviceInfo
	NewBackend() (Backend, error)
}

// Backend runs graphs on a device. Tensor memory is never owned by the
// backend: parameters live in buffers owned by the weight store and
// intermediates in buffers owned by a graph allocator.
type Backend interface {
	Device() DeviceInfo

	// DefaultBufferType is the buffer type tensors must be placed in for
	// Compute to read them.
	DefaultBufferType() BufferType

	// Compute evaluates every node of g in order and blocks until the whole
	// graph is done. Failures are returned as *ComputeError.
	Compute(g *Graph) error

	// Close releases the device. It returns ErrBackendClosed if called more
	// than once.
	Close() error
}

// BufferType allocates buffers of one kind of memory.
type BufferType interface {
	Name() string
	Alignment() int
	MaxSize() int

	// Alloc returns a buffer of at least size bytes or an *AllocationError.
	Alloc(size int) (Buffer, error)
}

// Buffer is a block of device memory backing one or more tensors. It is
// released exactly once with Free; any use after that returns
// ErrBufferReleased.
type Buffer interface {
	Type() BufferType
	Size() int

	SetTensor(t *Tensor, data []byte, offset int) error
	GetTensor(t *Tensor, data []byte, offset int) error
	Clear(value byte) error

	Free() error
}

// HostBuffer is a Buffer whose memory is directly addressable by the host.
type HostBuffer interface {
	Buffer
	Bytes() ([]byte, error)
}

type registeredDevice struct {
	name   string
	device Device
}

var devices []registeredDevice

// RegisterDevice makes a device available to NewBackend. Backend packages call
// it from init.
func RegisterDevice(name string, d Device) {
	for _, rd := range devices {
		if rd.name == name {
			panic("ml: device already registered: " + name)
		}
	}

	devices = append(devices, registeredDevice{name: name, device: d})
}

// Devices returns the registered devices in registration order.
func Devices() []Device {
	ds := make([]Device, len(devices))
	for i, rd := range devices {
		ds[i] = rd.device
	}
	return ds
}

// DeviceByType returns the first registered device of the given type.
func DeviceByType(t DeviceType) (Device, error) {
	for _, rd := range devices {
		if rd.device.Info().Type == t {
			return rd.device, nil
		}
	}

	return nil, fmt.Errorf("ml: no %s device registered", t)
}

// NewBackend creates a backend on the default device of the given type.
func NewBackend(t DeviceType) (Backend, error) {
	d, err := DeviceByType(t)
	if err != nil {
		return nil, err
	}

	b, err := d.NewBackend()
	if err != nil {
		return nil, err
	}

	info := b.Device()
	slog.Info("backend", "device", info.Name, "type", info.Type, "description", info.Description)
	return b, nil
}
