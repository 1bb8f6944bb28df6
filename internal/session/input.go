package session

import "moonlink/native/internal/domain"

// Input calls are silently dropped unless the session is Active, so UI
// races with teardown are harmless.

func (s *Session) SendMouseMove(dx, dy int16) error {
	if s.State() != domain.StateActive {
		return nil
	}
	return s.lib.SendMouseMove(dx, dy)
}

func (s *Session) SendMouseButton(action domain.ButtonAction, button domain.MouseButton) error {
	if s.State() != domain.StateActive {
		return nil
	}
	return s.lib.SendMouseButton(action, button)
}

func (s *Session) SendKeyEvent(keyCode int16, action domain.KeyAction, modifiers byte) error {
	if s.State() != domain.StateActive {
		return nil
	}
	return s.lib.SendKeyboard(keyCode, action, modifiers)
}
