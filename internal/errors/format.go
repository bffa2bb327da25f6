package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net"
	"os"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/text/unicode/norm"
)

const unknownMessage = "unknown error"

// contextProvider is implemented by errors that carry structured detail
// worth attaching to the record.
type contextProvider interface {
	ErrorContext() map[string]any
}

// Format normalizes v into a Record. It never panics: if classification
// fails the result holds the raw message, the original value as Cause
// when it is an error, and the failure in FormatFailure.
func Format(v any, opts ...Option) (rec Record) {
	o := buildOptions(opts)

	defer func() {
		if r := recover(); r != nil {
			rec = Record{
				Message:       fmt.Sprint(v),
				Level:         o.Level,
				Category:      o.Category,
				FormatFailure: fmt.Errorf("formatting error: %v", r),
			}

			if err, ok := v.(error); ok {
				rec.Cause = err
			}

			if rec.Level == LevelUnset {
				rec.Level = LevelError
			}

			if !rec.Category.Valid() {
				rec.Category = CategoryUnknown
			}
		}
	}()

	rec = classify(v)

	if o.Level != LevelUnset {
		rec.Level = o.Level
	}

	if o.Category.Valid() {
		rec.Category = o.Category
	}

	if len(o.Context) > 0 {
		if rec.Context == nil {
			rec.Context = make(map[string]any, len(o.Context))
		}

		maps.Copy(rec.Context, o.Context)
	}

	if rec.Level == LevelUnset {
		rec.Level = LevelError
	}

	if !rec.Category.Valid() {
		rec.Category = CategoryUnknown
	}

	rec.Message = normalizeMessage(rec.Message)

	return rec
}

func normalizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return unknownMessage
	}

	return norm.NFC.String(msg)
}

func classify(v any) Record {
	switch e := v.(type) {
	case nil:
		return Record{Message: unknownMessage, Category: CategoryUnknown}
	case Record:
		e.Context = maps.Clone(e.Context)
		return e
	case *Record:
		if e == nil {
			return Record{Message: unknownMessage, Category: CategoryUnknown}
		}

		rec := *e
		rec.Context = maps.Clone(e.Context)

		return rec
	case error:
		return classifyError(e)
	case string:
		return Record{Message: e, Category: CategoryApplication}
	case json.RawMessage:
		return classifyJSON(e)
	case []byte:
		return classifyJSON(e)
	case map[string]any:
		return classifyMap(e)
	case fmt.Stringer:
		return Record{Message: e.String(), Category: CategoryUnknown}
	default:
		return Record{Message: fmt.Sprintf("%v", v), Category: CategoryUnknown}
	}
}

func classifyError(err error) Record {
	rec := Record{
		Message:  err.Error(),
		Category: CategoryApplication,
		Cause:    err,
	}

	var ue *UserError
	if errors.As(err, &ue) {
		rec.Category = ue.Category
		rec.Level = ue.Level
		rec.Context = maps.Clone(ue.Details)

		if ue.Resolution != "" {
			rec.Context = withEntry(rec.Context, "resolution", ue.Resolution)
		}

		return rec
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		rec.Category = fromRichCategory(rich)
		if rich.TextCode != "" {
			rec.Context = withEntry(rec.Context, "text_code", rich.TextCode)
		}

		if rich.Code != 0 {
			rec.Context = withEntry(rec.Context, "code", rich.Code)
		}
	}

	var retrieve *oauth2.RetrieveError
	var netErr net.Error
	var pathErr *fs.PathError

	switch {
	case rich != nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		rec.Category = CategoryTimeout
	case errors.Is(err, context.Canceled):
		rec.Level = LevelMinor
	case errors.Is(err, ErrOAuthConfigMissing):
		rec.Category = CategoryConfiguration
	case isAuthError(err):
		rec.Category = CategoryAuthentication
	case errors.As(err, &retrieve):
		rec.Category = CategoryAuthentication
		if retrieve.Response != nil {
			rec.Context = withEntry(rec.Context, "status", retrieve.Response.StatusCode)
		}

		if retrieve.ErrorCode != "" {
			rec.Context = withEntry(rec.Context, "error_code", retrieve.ErrorCode)
		}
	case errors.Is(err, ErrTokenStore), errors.Is(err, ErrTokenTampered):
		rec.Category = CategoryStorage
	case errors.As(err, &netErr):
		rec.Category = CategoryNetwork
		if netErr.Timeout() {
			rec.Category = CategoryTimeout
		}
	case errors.As(err, &pathErr), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		rec.Category = CategoryFileSystem
	}

	var cp contextProvider
	if errors.As(err, &cp) {
		if extra := cp.ErrorContext(); len(extra) > 0 {
			if rec.Context == nil {
				rec.Context = make(map[string]any, len(extra))
			}

			maps.Copy(rec.Context, extra)
		}
	}

	return rec
}

func isAuthError(err error) bool {
	for _, s := range authSentinels {
		if errors.Is(err, s) {
			return true
		}
	}

	return false
}

func fromRichCategory(rich *goerrors.Error) Category {
	switch rich.Category {
	case goerrors.CategoryAuth:
		return CategoryAuthentication
	case goerrors.CategoryAuthz:
		return CategoryAuthorization
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return CategoryValidation
	case goerrors.CategoryRateLimit:
		return CategoryRateLimit
	case goerrors.CategoryExternal:
		return CategoryNetwork
	case goerrors.CategoryInternal:
		return CategoryInternal
	default:
		return CategoryApplication
	}
}

// classifyJSON handles raw response bodies such as OAuth error documents.
func classifyJSON(b []byte) Record {
	if !gjson.ValidBytes(b) {
		return Record{Message: string(b), Category: CategoryUnknown}
	}

	rec := Record{Category: CategoryApplication}

	for _, path := range []string{"message", "error.message", "error_description", "error"} {
		if r := gjson.GetBytes(b, path); r.Exists() && r.Type == gjson.String {
			rec.Message = r.String()
			break
		}
	}

	if rec.Message == "" {
		rec.Message = string(b)
	}

	if code := gjson.GetBytes(b, "error"); code.Type == gjson.String {
		rec.Context = withEntry(rec.Context, "error_code", code.String())
	}

	if c := Category(gjson.GetBytes(b, "category").String()); c.Valid() {
		rec.Category = c
	}

	return rec
}

func classifyMap(m map[string]any) Record {
	rec := Record{Category: CategoryApplication}

	if msg, ok := m["message"]; ok {
		rec.Message = fmt.Sprint(msg)
	} else if msg, ok := m["error"]; ok {
		rec.Message = fmt.Sprint(msg)
	} else {
		rec.Message = fmt.Sprint(m)
	}

	if c, ok := m["category"].(string); ok && Category(c).Valid() {
		rec.Category = Category(c)
	}

	for k, v := range m {
		if k == "message" || k == "category" {
			continue
		}

		rec.Context = withEntry(rec.Context, k, v)
	}

	return rec
}

func withEntry(ctx map[string]any, key string, value any) map[string]any {
	if ctx == nil {
		ctx = make(map[string]any)
	}

	ctx[key] = value

	return ctx
}
