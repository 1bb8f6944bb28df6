package domain

// MouseButton identifies a mouse button.
type MouseButton uint8

const (
	MouseButtonLeft   MouseButton = 0x01
	MouseButtonMiddle MouseButton = 0x02
	MouseButtonRight  MouseButton = 0x03
	MouseButtonX1     MouseButton = 0x04
	MouseButtonX2     MouseButton = 0x05
)

// ButtonAction is press or release.
type ButtonAction uint8

const (
	ButtonActionPress   ButtonAction = 0x07
	ButtonActionRelease ButtonAction = 0x08
)

// KeyAction is key down or key up.
type KeyAction uint8

const (
	KeyActionDown KeyAction = 0x03
	KeyActionUp   KeyAction = 0x04
)

// Keyboard modifier flags.
const (
	ModifierShift byte = 0x01
	ModifierCtrl  byte = 0x02
	ModifierAlt   byte = 0x04
	ModifierMeta  byte = 0x08
)
