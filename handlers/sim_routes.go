package handlers

import (
	"errors"

	"realm-sim-server/models"
	"realm-sim-server/services"

	"github.com/gofiber/fiber/v2"
)

// SetupSimRoutes wires the command/query contract. All mutation goes
// through POST /s/command/:entityId — one envelope, one dispatch path.
func SetupSimRoutes(app *fiber.App, cityService *services.CityService, marketService *services.MarketService) {
	app.Post("/s/cities", func(c *fiber.Ctx) error {
		type Req struct {
			OwnerID   string `json:"owner_id"`
			KingdomID string `json:"kingdom_id"`
			Region    string `json:"region"`
			Name      string `json:"name"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if req.OwnerID == "" || req.KingdomID == "" || req.Region == "" || req.Name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "owner_id, kingdom_id, region and name are required",
			})
		}

		city, err := cityService.RegisterCity(req.OwnerID, req.KingdomID, req.Region, req.Name)
		if err != nil {
			return rejection(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(city)
	})

	app.Get("/s/state/:entityId", func(c *fiber.Ctx) error {
		state, err := cityService.GetState(c.Params("entityId"))
		if err != nil {
			return rejection(c, err)
		}
		return c.JSON(state)
	})

	app.Post("/s/command/:entityId", func(c *fiber.Ctx) error {
		var cmd models.Command
		if err := c.BodyParser(&cmd); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if cmd.Type == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "command type is required",
			})
		}

		result, err := cityService.Dispatch(c.Params("entityId"), cmd)
		if err != nil {
			return rejection(c, err)
		}
		return c.JSON(result)
	})

	app.Get("/s/orderbook/:kingdomId/:item", func(c *fiber.Ctx) error {
		book, err := marketService.GetOrderBook(c.Params("kingdomId"), c.Params("item"))
		if err != nil {
			return rejection(c, err)
		}
		return c.JSON(book)
	})
}

// rejection maps the command rejection taxonomy onto HTTP statuses.
// Retryable errors surface as 503 so the gateway backs off and retries.
func rejection(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrInsufficientResources):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrConflict):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrTransient):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
