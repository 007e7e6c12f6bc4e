// File: middleware_fiber.go

package tokenizer

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

const guardLocalsKey = "tokenizer.guard"

// FiberRequest adapts a fiber context to Request.
type FiberRequest struct {
	ctx *fiber.Ctx
}

func NewFiberRequest(ctx *fiber.Ctx) FiberRequest {
	return FiberRequest{ctx: ctx}
}

func (r FiberRequest) Header(name string) string {
	return r.ctx.Get(name)
}

func (r FiberRequest) FormValue(key string) string {
	return r.ctx.FormValue(key)
}

func (r FiberRequest) Cookie(name string) (string, bool) {
	value := r.ctx.Cookies(name)
	return value, value != ""
}

// FiberGuard returns the guard installed by FiberMiddleware.
func FiberGuard(ctx *fiber.Ctx) (*Guard, bool) {
	g, ok := ctx.Locals(guardLocalsKey).(*Guard)
	return g, ok
}

// FiberMiddleware authenticates requests with the named guard and answers
// guests with 401.
func (t *Tokenizer) FiberMiddleware(guard string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		g, err := t.Guard(guard, NewFiberRequest(ctx))
		if err != nil {
			t.logger.Error("failed to create guard", "guard", guard, "error", err)
			return fiber.ErrInternalServerError
		}

		if _, err := g.Authenticate(ctx.UserContext()); err != nil {
			return fiber.ErrUnauthorized
		}

		ctx.Locals(guardLocalsKey, g)
		return ctx.Next()
	}
}

// FiberCheckScopes rejects requests whose token lacks any of scopes. It
// must run after FiberMiddleware.
func FiberCheckScopes(scopes ...string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		g, ok := FiberGuard(ctx)
		if !ok {
			return fiber.ErrUnauthorized
		}

		if err := g.RequireScopes(ctx.UserContext(), scopes...); err != nil {
			var scopeErr *MissingScopeError
			if errors.As(err, &scopeErr) {
				return fiber.NewError(StatusCode(err), scopeErr.Error())
			}
			return fiber.NewError(StatusCode(err))
		}
		return ctx.Next()
	}
}
