// files.go — GET /files и POST /files.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"time"

	"github.com/goccy/go-json"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/tobiaxs/frost-shard/internal/api/errors"
	"github.com/tobiaxs/frost-shard/internal/api/generated"
	"github.com/tobiaxs/frost-shard/internal/api/middleware"
	"github.com/tobiaxs/frost-shard/internal/auth"
	"github.com/tobiaxs/frost-shard/internal/domain/model"
	"github.com/tobiaxs/frost-shard/internal/service"
)

// multipartMemory — часть multipart-тела, которая держится в памяти.
const multipartMemory = 32 << 20

// ListFiles — реализация GET /files. Требует READ_FILES.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request, params generated.ListFilesParams) {
	identity, ok := h.authorize(w, r, auth.PermissionReadFiles)
	if !ok {
		return
	}

	filters, page, err := h.listParams(params)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	records, err := h.files.Collect(r.Context(), identity, filters, page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]generated.FileWithURL, 0, len(records))
	for _, rec := range records {
		items = append(items, generated.FileWithURL{
			Id:   rec.ID,
			Date: openapi_types.Date{Time: rec.Date},
			Url:  rec.URL,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// listParams проверяет параметры и приводит их к доменным типам.
// limit больше MaxLimit урезается до MaxLimit.
func (h *APIHandler) listParams(params generated.ListFilesParams) (service.FileFilters, service.PaginationParams, error) {
	var filters service.FileFilters
	page := service.PaginationParams{Page: service.DefaultPage, Limit: service.DefaultLimit}

	if params.Email != nil {
		email := string(*params.Email)
		if err := h.validate.Var(email, "email"); err != nil {
			return filters, page, fmt.Errorf("некорректный email: %q", email)
		}
		filters.Email = email
	}
	if params.DateGt != nil {
		filters.After = &params.DateGt.Time
	}
	if params.DateLt != nil {
		filters.Before = &params.DateLt.Time
	}

	if params.Page != nil {
		if *params.Page < 0 {
			return filters, page, errors.New("page не может быть отрицательным")
		}
		page.Page = *params.Page
	}
	if params.Limit != nil {
		if *params.Limit < 1 {
			return filters, page, errors.New("limit должен быть не меньше 1")
		}
		page.Limit = min(*params.Limit, service.MaxLimit)
	}
	return filters, page, nil
}

// CreateFiles — реализация POST /files. Требует CREATE_FILES.
// application/json создаёт одну запись, multipart/form-data загружает файлы.
func (h *APIHandler) CreateFiles(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authorize(w, r, auth.PermissionCreateFiles)
	if !ok {
		return
	}

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		var err error
		if mediaType, _, err = mime.ParseMediaType(ct); err != nil {
			apierrors.ValidationError(w, "Некорректный Content-Type")
			return
		}
	}

	var (
		records []*model.FileRecord
		err     error
	)
	switch mediaType {
	case "application/json":
		var body generated.CreateFilesJSONRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
			return
		}
		var rec *model.FileRecord
		if rec, err = h.files.Create(r.Context(), identity, service.FileCreate{Date: dateOrNil(body.Date)}); err == nil {
			records = []*model.FileRecord{rec}
		}

	case "multipart/form-data":
		in, uploads, perr := h.parseUpload(w, r)
		if perr != nil {
			apierrors.ValidationError(w, perr.Error())
			return
		}
		records, err = h.files.BulkCreate(r.Context(), identity, in, uploads)

	default:
		apierrors.ValidationError(w, fmt.Sprintf("Неподдерживаемый Content-Type: %s", mediaType))
		return
	}

	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]generated.File, 0, len(records))
	for _, rec := range records {
		items = append(items, generated.File{
			Id:    rec.ID,
			Email: rec.EncryptedEmail,
			Date:  openapi_types.Date{Time: rec.Date},
		})
	}
	writeJSON(w, http.StatusCreated, items)
}

// parseUpload читает multipart-тело: файлы из поля files (или files[])
// и необязательную дату.
func (h *APIHandler) parseUpload(w http.ResponseWriter, r *http.Request) (service.FileCreate, []service.Upload, error) {
	var in service.FileCreate

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return in, nil, fmt.Errorf("тело запроса больше %d байт", tooLarge.Limit)
		}
		return in, nil, errors.New("некорректное multipart-тело")
	}

	if raw := r.MultipartForm.Value["date"]; len(raw) > 0 && raw[0] != "" {
		d, err := time.Parse(openapi_types.DateFormat, raw[0])
		if err != nil {
			return in, nil, fmt.Errorf("некорректная дата: %q", raw[0])
		}
		in.Date = &d
	}

	headers := slices.Concat(r.MultipartForm.File["files"], r.MultipartForm.File["files[]"])
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return in, nil, fmt.Errorf("чтение файла %q: %w", fh.Filename, err)
		}
		uploads = append(uploads, service.Upload{Filename: fh.Filename, Data: data})
	}
	return in, uploads, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// authorize достаёт Identity из контекста и проверяет права.
// При отказе ответ уже записан.
func (h *APIHandler) authorize(w http.ResponseWriter, r *http.Request, required ...auth.Permission) (auth.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return auth.Identity{}, false
	}
	if err := auth.RequirePermissions(identity, required...); err != nil {
		h.writeServiceError(w, err)
		return auth.Identity{}, false
	}
	return identity, true
}

func dateOrNil(d *openapi_types.Date) *time.Time {
	if d == nil {
		return nil
	}
	return &d.Time
}
