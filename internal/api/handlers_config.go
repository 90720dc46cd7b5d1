package api

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"go.bug.st/serial"
)

// comPortsList enumerates serial ports visible to the host. go.bug.st/serial
// only exposes port names, not OS-level descriptions, so description is
// always empty; kept as a field so the wire shape matches spec §6.1 and a
// richer backend (udev, WMI) could fill it in later.
func (s *Service) comPortsList(c *fiber.Ctx) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return httpError(c, err)
	}

	type portInfo struct {
		Port        string `json:"port"`
		Description string `json:"description"`
	}
	out := make([]portInfo, len(ports))
	for i, p := range ports {
		out[i] = portInfo{Port: p}
	}
	return c.JSON(fiber.Map{"ports": out})
}

type verifyPINRequest struct {
	PIN string `json:"pin"`
}

// verifyPIN is a constant-time equality check against the configured PIN.
// A timing-variable comparison here would let an attacker recover the PIN
// one byte at a time, so this never uses == on the raw strings.
func (s *Service) verifyPIN(c *fiber.Ctx) error {
	var req verifyPINRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	valid := subtle.ConstantTimeCompare([]byte(req.PIN), []byte(s.PIN)) == 1
	return c.JSON(fiber.Map{"valid": valid})
}

// clearSettings wipes the device registry. Readings and audit history are
// left intact; this only resets configured devices, matching the teacher's
// "factory reset" semantics for its own config store.
func (s *Service) clearSettings(c *fiber.Ctx) error {
	if err := s.Registry.DeleteAll(c.Context()); err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}
