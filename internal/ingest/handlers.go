package ingest

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		var req CreateSessionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		resp, err := svc.CreateSession(c.Context(), userID(c), req)
		if err != nil {
			return httpError(err)
		}
		status := fiber.StatusOK
		if resp.Created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(resp)
	})

	r.Post("/sessions/:id/finalize", authMiddleware, func(c *fiber.Ctx) error {
		var req FinalizeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		summary, err := svc.FinalizeManifest(c.Context(), userID(c), c.Params("id"), req)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(summary)
	})

	r.Get("/sessions/:id", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := svc.GetSession(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(sess)
	})

	r.Get("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		list, err := svc.ListSessions(c.Context(), userID(c), c.QueryInt("limit", 50), c.QueryInt("offset", 0))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(list)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func httpError(err error) error {
	var sizeErr *SizeMismatchError
	var missingErr *MissingFilesError
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalid), errors.As(err, &sizeErr), errors.As(err, &missingErr):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
