package blob

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes exposes the capability-scoped upload surface. The token
// travels as a query parameter, SAS style, so plain PUT clients work.
func RegisterRoutes(r fiber.Router, store Store, tokens *auth.CapabilityService, container string) {
	authorize := func(c *fiber.Ctx) (string, error) {
		objectPath, ok := strings.CutPrefix(c.Params("*"), container+"/")
		if !ok {
			return "", fiber.NewError(fiber.StatusNotFound, "unknown container")
		}

		claims, err := tokens.Verify(c.Query("token"))
		if errors.Is(err, auth.ErrTokenExpired) {
			// Expired is a normal, recoverable condition: the client
			// re-requests a session to get a fresh token.
			return "", fiber.NewError(fiber.StatusUnauthorized, "token expired")
		}
		if err != nil {
			return "", fiber.NewError(fiber.StatusUnauthorized, "token invalid")
		}
		if !claims.Allows(objectPath) {
			return "", fiber.NewError(fiber.StatusForbidden, "token not valid for path")
		}
		return objectPath, nil
	}

	r.Put("/*", func(c *fiber.Ctx) error {
		objectPath, err := authorize(c)
		if err != nil {
			return err
		}
		n, err := store.Put(c.Context(), objectPath, bytes.NewReader(c.Body()))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"path":  objectPath,
			"bytes": n,
		})
	})

	r.Head("/*", func(c *fiber.Ctx) error {
		objectPath, err := authorize(c)
		if err != nil {
			return err
		}
		size, err := store.Stat(c.Context(), objectPath)
		if errors.Is(err, ErrNotFound) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentLength, strconv.FormatInt(size, 10))
		return c.SendStatus(fiber.StatusOK)
	})
}
