//go:build darwin

// Package mt binds the private MultitouchSupport framework through purego,
// giving raw access to the trackpad contact stream without cgo. Only one
// device may be running per process: the framework delivers contact frames
// through a single registered C callback.
package mt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// ErrNoDevice is returned by Open when no multitouch device is present.
var ErrNoDevice = errors.New("mt: no multitouch device found")

// Contact states as reported by the framework.
const (
	StateNotTracking int32 = iota
	StateStartInRange
	StateHoverInRange
	StateMakeTouch
	StateTouching
	StateBreakTouch
	StateLingerInRange
	StateOutOfRange
)

// Contact record layout. Each record is 96 bytes; fields are parsed by
// offset from the callback's raw pointer.
const (
	contactSize = 96

	offFrame      = 0
	offTimestamp  = 8
	offIdentifier = 16
	offState      = 20
	offNormPosX   = 32
	offNormPosY   = 36
	offNormVelX   = 40
	offNormVelY   = 44
	offSize       = 48
	offAngle      = 56
	offMajorAxis  = 60
	offMinorAxis  = 64
)

// Framework handles.
var (
	mts uintptr
	cf  uintptr
)

// MultitouchSupport functions.
var (
	mtDeviceCreateDefault            func() uintptr
	mtRegisterContactFrameCallback   func(device uintptr, callback uintptr)
	mtUnregisterContactFrameCallback func(device uintptr, callback uintptr)
	mtDeviceStart                    func(device uintptr, mode int32) int32
	mtDeviceStop                     func(device uintptr)
	mtDeviceRelease                  func(device uintptr)
)

// CoreFoundation functions for the callback run loop.
var (
	cfRunLoopGetCurrent func() uintptr
	cfRunLoopRunInMode  func(mode uintptr, seconds float64, returnAfterSourceHandled bool) int32
	cfRunLoopStop       func(runLoop uintptr)
)

var kCFRunLoopDefaultMode uintptr

func init() {
	var err error
	mts, err = purego.Dlopen("/System/Library/PrivateFrameworks/MultitouchSupport.framework/MultitouchSupport", purego.RTLD_LAZY)
	if err != nil {
		panic(fmt.Sprintf("dlopen MultitouchSupport: %v", err))
	}

	cf, err = purego.Dlopen("/System/Library/Frameworks/CoreFoundation.framework/CoreFoundation", purego.RTLD_LAZY)
	if err != nil {
		panic(fmt.Sprintf("dlopen CoreFoundation: %v", err))
	}

	purego.RegisterLibFunc(&mtDeviceCreateDefault, mts, "MTDeviceCreateDefault")
	purego.RegisterLibFunc(&mtRegisterContactFrameCallback, mts, "MTRegisterContactFrameCallback")
	purego.RegisterLibFunc(&mtUnregisterContactFrameCallback, mts, "MTUnregisterContactFrameCallback")
	purego.RegisterLibFunc(&mtDeviceStart, mts, "MTDeviceStart")
	purego.RegisterLibFunc(&mtDeviceStop, mts, "MTDeviceStop")
	purego.RegisterLibFunc(&mtDeviceRelease, mts, "MTDeviceRelease")

	purego.RegisterLibFunc(&cfRunLoopGetCurrent, cf, "CFRunLoopGetCurrent")
	purego.RegisterLibFunc(&cfRunLoopRunInMode, cf, "CFRunLoopRunInMode")
	purego.RegisterLibFunc(&cfRunLoopStop, cf, "CFRunLoopStop")

	// kCFRunLoopDefaultMode is a global holding a CFStringRef, so the
	// symbol address is dereferenced once to get the actual value.
	kCFRunLoopDefaultMode = derefSymbol(cf, "kCFRunLoopDefaultMode")

	contactCallbackPtr = purego.NewCallback(contactCallback)
}

// derefSymbol loads a symbol from a dylib and dereferences it (pointer-to-pointer).
func derefSymbol(lib uintptr, name string) uintptr {
	sym, _ := purego.Dlsym(lib, name)
	if sym == 0 {
		return 0
	}
	return **(**uintptr)(unsafe.Pointer(&sym))
}

// Contact is one raw contact record from a frame callback.
type Contact struct {
	Identifier int32
	State      int32
	PosX, PosY float32
	VelX, VelY float32
	Size       float32
	Angle      float32
	MajorAxis  float32
	MinorAxis  float32
	Timestamp  float64
}

// FrameHandler receives one contact frame. It is invoked on the run loop
// thread; implementations must not block.
type FrameHandler func(contacts []Contact, timestamp float64, frameNum int32)

// Global handler state. One device per process.
var (
	handlerMu     sync.Mutex
	activeHandler FrameHandler
)

var contactCallbackPtr uintptr

// contactCallback is the raw trampoline registered with the framework.
// Signature: int cb(MTDeviceRef, Contact*, int nContacts, double timestamp, int frame).
func contactCallback(_ uintptr, data *byte, nContacts int32, timestamp float64, frameNum int32) int32 {
	handlerMu.Lock()
	h := activeHandler
	handlerMu.Unlock()
	if h == nil || nContacts < 0 {
		return 0
	}

	contacts := ParseContacts(data, int(nContacts))
	h(contacts, timestamp, frameNum)
	return 0
}

// ParseContacts decodes nContacts raw 96-byte contact records.
func ParseContacts(data *byte, nContacts int) []Contact {
	if data == nil || nContacts <= 0 {
		return nil
	}
	raw := unsafe.Slice(data, nContacts*contactSize)
	contacts := make([]Contact, 0, nContacts)
	for i := 0; i < nContacts; i++ {
		rec := raw[i*contactSize : (i+1)*contactSize]
		contacts = append(contacts, Contact{
			Identifier: int32(binary.LittleEndian.Uint32(rec[offIdentifier:])),
			State:      int32(binary.LittleEndian.Uint32(rec[offState:])),
			PosX:       f32(rec[offNormPosX:]),
			PosY:       f32(rec[offNormPosY:]),
			VelX:       f32(rec[offNormVelX:]),
			VelY:       f32(rec[offNormVelY:]),
			Size:       f32(rec[offSize:]),
			Angle:      f32(rec[offAngle:]),
			MajorAxis:  f32(rec[offMajorAxis:]),
			MinorAxis:  f32(rec[offMinorAxis:]),
			Timestamp:  f64(rec[offTimestamp:]),
		})
	}
	return contacts
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func f64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// Device is an open multitouch device.
type Device struct {
	ref uintptr

	mu      sync.Mutex
	runLoop uintptr
	running bool
}

// Open creates the default multitouch device. Returns ErrNoDevice when the
// machine has no built-in trackpad.
func Open() (*Device, error) {
	ref := mtDeviceCreateDefault()
	if ref == 0 {
		return nil, ErrNoDevice
	}
	return &Device{ref: ref}, nil
}

// Run registers the frame handler, starts the device, and services the
// callback run loop until ctx is cancelled. It locks the calling goroutine
// to its OS thread for the duration, as CoreFoundation requires.
func (d *Device) Run(ctx context.Context, h FrameHandler) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("mt: device already running")
	}

	handlerMu.Lock()
	if activeHandler != nil {
		handlerMu.Unlock()
		d.mu.Unlock()
		return errors.New("mt: another device owns the contact callback")
	}
	activeHandler = h
	handlerMu.Unlock()

	d.running = true
	d.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d.mu.Lock()
	d.runLoop = cfRunLoopGetCurrent()
	d.mu.Unlock()

	mtRegisterContactFrameCallback(d.ref, contactCallbackPtr)
	if rc := mtDeviceStart(d.ref, 0); rc != 0 {
		d.teardown()
		return fmt.Errorf("mt: MTDeviceStart returned %d", rc)
	}

	// Wake the run loop when the context is cancelled.
	stopOnce := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopOnce:
		}
		d.mu.Lock()
		rl := d.runLoop
		d.mu.Unlock()
		if rl != 0 {
			cfRunLoopStop(rl)
		}
	}()

	for ctx.Err() == nil {
		cfRunLoopRunInMode(kCFRunLoopDefaultMode, 1.0, false)
	}
	close(stopOnce)

	mtDeviceStop(d.ref)
	d.teardown()
	return ctx.Err()
}

func (d *Device) teardown() {
	mtUnregisterContactFrameCallback(d.ref, contactCallbackPtr)

	handlerMu.Lock()
	activeHandler = nil
	handlerMu.Unlock()

	d.mu.Lock()
	d.running = false
	d.runLoop = 0
	d.mu.Unlock()
}

// Close releases the device. The run loop must already be stopped.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ref != 0 {
		mtDeviceRelease(d.ref)
		d.ref = 0
	}
	return nil
}
