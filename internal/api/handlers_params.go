package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/pyroscan/pyroscan/internal/audit"
	"github.com/pyroscan/pyroscan/internal/paramservice"
)

// auditEntryFor builds the audit record for one parameter write. writeErr
// is nil on success; callers only reach the Record call on success today,
// but the signature accepts an error so a future failed-write audit path
// does not need to change this helper.
func auditEntryFor(comPort string, slaveID byte, paramID paramservice.ParamID, value float64, writeErr error) audit.Entry {
	e := audit.Entry{
		ComPort: comPort,
		SlaveID: slaveID,
		ParamID: int(paramID),
		Value:   value,
		Success: writeErr == nil,
	}
	if writeErr != nil {
		e.ErrorMsg = writeErr.Error()
	}
	return e
}

// paramEndpoint names one of the six single-register parameter routes:
// its JSON field name and the ParamID it reads/writes.
type paramEndpoint struct {
	field   string
	paramID paramservice.ParamID
}

var (
	emissivityEndpoint      = paramEndpoint{"emissivity", paramservice.ParamEmissivity}
	slopeEndpoint           = paramEndpoint{"slope", paramservice.ParamSlope}
	measurementModeEndpoint = paramEndpoint{"measurement_mode", paramservice.ParamMeasurementMode}
	timeIntervalEndpoint    = paramEndpoint{"time_interval", paramservice.ParamTimeInterval}
	tempLowEndpoint         = paramEndpoint{"temp_lower_limit", paramservice.ParamTempLow}
	tempHighEndpoint        = paramEndpoint{"temp_upper_limit", paramservice.ParamTempHigh}
)

func busAddrFromQuery(c *fiber.Ctx) (comPort string, slaveID byte, err error) {
	comPort = c.Query("com_port")
	n, convErr := strconv.Atoi(c.Query("slave_id"))
	if convErr != nil || n < 0 || n > 255 {
		return "", 0, fiber.NewError(fiber.StatusBadRequest, "invalid slave_id")
	}
	return comPort, byte(n), nil
}

// readParam builds the GET handler for one parameter endpoint.
func (s *Service) readParam(ep paramEndpoint) fiber.Handler {
	return func(c *fiber.Ctx) error {
		comPort, slaveID, err := busAddrFromQuery(c)
		if err != nil {
			return err
		}

		value, err := s.Params.ReadParameter(c.Context(), comPort, slaveID, ep.paramID)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(fiber.Map{ep.field: value})
	}
}

// writeParam builds the POST handler for one parameter endpoint. The body
// carries com_port/slave_id alongside the value field, unlike the GET
// variant which takes them as query parameters.
func (s *Service) writeParam(ep paramEndpoint) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body map[string]any
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		comPort, _ := body["com_port"].(string)
		slaveIDf, _ := body["slave_id"].(float64)
		value, ok := body[ep.field].(float64)
		if comPort == "" || !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing required fields"})
		}

		if err := s.Params.WriteParameter(c.Context(), comPort, byte(slaveIDf), ep.paramID, value); err != nil {
			return httpError(c, err)
		}

		if s.Audit != nil {
			_ = s.Audit.Record(c.Context(), auditEntryFor(comPort, byte(slaveIDf), ep.paramID, value, nil))
		}
		return c.JSON(fiber.Map{ep.field: value})
	}
}

func (s *Service) allParameters(c *fiber.Ctx) error {
	comPort, slaveID, err := busAddrFromQuery(c)
	if err != nil {
		return err
	}

	all, err := s.Params.ReadAll(c.Context(), comPort, slaveID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"emissivity":       all.Emissivity,
		"slope":            all.Slope,
		"measurement_mode": all.MeasurementMode,
		"time_interval":    all.TimeInterval,
		"temp_lower_limit": all.TempLow,
		"temp_upper_limit": all.TempHigh,
	})
}

// parameterAudit serves the supplemented write-history endpoint. It 503s
// when Mongo is not configured, since there is no other durable store for
// this trail.
func (s *Service) parameterAudit(c *fiber.Ctx) error {
	if s.Audit == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "audit trail not configured"})
	}

	comPort := c.Query("com_port")
	slaveIDn, _ := strconv.Atoi(c.Query("slave_id"))
	limit, _ := strconv.ParseInt(c.Query("limit"), 10, 64)
	if limit <= 0 {
		limit = 100
	}

	entries, err := s.Audit.History(c.Context(), comPort, byte(slaveIDn), limit)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(entries)
}
