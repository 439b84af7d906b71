package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"kalitaforms/internal/gallery"
	"kalitaforms/internal/lightbox"
)

// DraftRecordID: :id для галереи ещё не сохранённой записи.
const DraftRecordID = "new"

// maxUploadMemory: сколько multipart держим в памяти, остальное во временных файлах.
const maxUploadMemory = 32 << 20

// galleryResponse: галерея после изменения: список, ссылки для показа и
// значение поля, которое форма отправит при сохранении.
func (srv *Server) galleryResponse(images []gallery.Image) gin.H {
	urls := srv.Engine.URLs()
	display := make([]string, 0, len(images))
	for _, img := range images {
		display = append(display, urls.ResolveDisplayURL(img))
	}
	if images == nil {
		images = []gallery.Image{}
	}
	return gin.H{
		"images":      images,
		"displayUrls": display,
		"value":       gallery.Serialize(images),
	}
}

// POST /api/form/:module/:table/:id/_gallery/:field
// multipart: files (файлы) и current (значение поля черновика, для :id=new).
func UploadGalleryHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form expected"})
			return
		}
		headers := c.Request.MultipartForm.File["files"]
		if len(headers) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no files (field name 'files')"})
			return
		}
		files := make([]gallery.File, 0, len(headers))
		for _, h := range headers {
			h := h
			files = append(files, gallery.File{
				Name:        safeName(h),
				ContentType: h.Header.Get("Content-Type"),
				Open:        func() (io.ReadCloser, error) { return h.Open() },
			})
		}

		recordID := c.Param("id")
		var current any
		if recordID == DraftRecordID {
			recordID = ""
			current = c.Request.FormValue("current")
		}

		images, results, err := srv.Engine.UploadImages(c.Request.Context(), fqn, recordID, c.Param("field"), current, files)
		if err != nil {
			srv.writeError(c, err)
			return
		}
		resp := srv.galleryResponse(images)
		resp["results"] = results
		c.JSON(http.StatusOK, resp)
	}
}

// DELETE /api/form/:module/:table/:id/_gallery/:field/:index
func RemoveGalleryImageHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		idx, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a number"})
			return
		}
		images, err := srv.Engine.RemoveImage(c.Request.Context(), fqn, c.Param("id"), c.Param("field"), idx)
		if err != nil {
			srv.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, srv.galleryResponse(images))
	}
}

// DELETE /api/form/:module/:table/:id/_gallery/:field
func ClearGalleryHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		images, err := srv.Engine.ClearGallery(c.Request.Context(), fqn, c.Param("id"), c.Param("field"))
		if err != nil {
			srv.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, srv.galleryResponse(images))
	}
}

// GET /api/form/:module/:table/:id/_gallery/:field/lightbox?index=&dir=next|prev
// для :id=new картинки берутся из ?value=.
func LightboxHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, ok := srv.tableParam(c)
		if !ok {
			return
		}
		idx := 0
		if s := c.Query("index"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a number"})
				return
			}
			idx = n
		}
		step, ok := lightbox.ParseStep(c.Query("dir"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dir must be next or prev"})
			return
		}

		recordID := c.Param("id")
		var current any
		if recordID == DraftRecordID {
			recordID = ""
			current = c.Query("value")
		}
		view, err := srv.Engine.Lightbox(c.Request.Context(), fqn, recordID, c.Param("field"), current, idx, step)
		if err != nil {
			srv.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func safeName(h *multipart.FileHeader) string {
	name := h.Filename
	name = filepath.Base(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "file"
	}
	return name
}

// GET /files/*key
func ServeFileHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if srv.Storage.Blob == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "blob store not configured"})
			return
		}
		p, err := srv.Storage.Blob.Path(strings.TrimPrefix(c.Param("key"), "/"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.File(p)
	}
}
