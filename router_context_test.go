package auth_test

import (
	"context"
	"encoding/json"

	"github.com/goliatone/go-router"
)

// routerContext is embedded through an alias so the fake can declare its
// own Context method.
type routerContext = router.Context

// fakeContext implements the parts of router.Context the auth handlers use.
// Anything else panics on the nil embedded interface.
type fakeContext struct {
	routerContext

	ctx     context.Context
	body    []byte
	headers map[string]string
	params  map[string]string
	cookies map[string]string
	locals  map[any]any

	status     int
	response   any
	setCookies []*router.Cookie
	nextCalled bool
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		ctx:     context.Background(),
		headers: map[string]string{},
		params:  map[string]string{},
		cookies: map[string]string{},
		locals:  map[any]any{},
	}
}

func (c *fakeContext) withJSON(v any) *fakeContext {
	c.body, _ = json.Marshal(v)
	return c
}

func (c *fakeContext) Context() context.Context       { return c.ctx }
func (c *fakeContext) SetContext(ctx context.Context) { c.ctx = ctx }
func (c *fakeContext) Header(key string) string       { return c.headers[key] }

func (c *fakeContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *fakeContext) Param(key string, defaultValue ...string) string {
	if v, ok := c.params[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *fakeContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := c.cookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *fakeContext) Cookie(cookie *router.Cookie) {
	c.setCookies = append(c.setCookies, cookie)
}

func (c *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.locals[key] = value[0]
		return value[0]
	}
	return c.locals[key]
}

func (c *fakeContext) Bind(i any) error {
	return json.Unmarshal(c.body, i)
}

func (c *fakeContext) JSON(code int, val any) error {
	c.status = code
	c.response = val
	return nil
}

func (c *fakeContext) Next() error {
	c.nextCalled = true
	return nil
}

// responseMap round trips the captured response through JSON
func (c *fakeContext) responseMap() map[string]any {
	raw, err := json.Marshal(c.response)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func (c *fakeContext) lastCookie() *router.Cookie {
	if len(c.setCookies) == 0 {
		return nil
	}
	return c.setCookies[len(c.setCookies)-1]
}
