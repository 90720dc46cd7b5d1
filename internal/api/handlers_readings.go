package api

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (s *Service) readingLatest(c *fiber.Ctx) error {
	rs, err := s.Readings.Latest(c.Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(toLatestEntries(rs))
}

func (s *Service) readingByDevice(c *fiber.Ctx) error {
	deviceID := c.Params("id")
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = 100
	}

	rs, err := s.Readings.History(c.Context(), deviceID, time.Time{}, time.Now().UTC(), limit)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(toReadingDTOs(rs))
}

func (s *Service) readingFilter(c *fiber.Ctx) error {
	deviceID := c.Query("device_id")
	start, err := parseQueryTime(c.Query("start_date"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid start_date"})
	}
	end, err := parseQueryTime(c.Query("end_date"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid end_date"})
	}

	rs, err := s.Readings.History(c.Context(), deviceID, start, end, 0)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"readings": toReadingDTOs(rs)})
}

func (s *Service) readingExportCSV(c *fiber.Ctx) error {
	deviceID := c.Query("device_id")
	start, err := parseQueryTime(c.Query("start_date"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid start_date"})
	}
	end, err := parseQueryTime(c.Query("end_date"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid end_date"})
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="readings.csv"`)

	if s.FTP == nil {
		if err := s.Readings.ExportCSV(c.Context(), c.Response().BodyWriter(), deviceID, start, end); err != nil {
			return httpError(c, err)
		}
		return nil
	}

	// When an FTP archive is configured, buffer the whole export so the
	// same bytes can be mirrored there for compliance retention; the
	// response is then written from that buffer rather than streamed.
	var buf bytes.Buffer
	if err := s.Readings.ExportCSV(c.Context(), &buf, deviceID, start, end); err != nil {
		return httpError(c, err)
	}

	data := buf.Bytes()
	if _, err := c.Response().BodyWriter().Write(data); err != nil {
		return err
	}

	name := fmt.Sprintf("readings_%s_%s.csv", deviceID, time.Now().UTC().Format("20060102T150405"))
	go func(archived []byte) {
		if err := s.FTP.Upload(name, archived); err != nil {
			s.Log.Warn("ftp archive upload failed", zap.Error(err))
		}
	}(append([]byte(nil), data...))

	return nil
}

func (s *Service) readingStats(c *fiber.Ctx) error {
	stats, err := s.Readings.Stats(c.Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(stats)
}
