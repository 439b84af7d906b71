package gallery

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FileMeta: метаданные загружаемого файла.
type FileMeta struct {
	FileName    string
	ContentType string
	Table       string
	RecordID    string
	Field       string
}

// Stored: ответ сервиса загрузки.
type Stored struct {
	URL        string `json:"url"`
	StoredName string `json:"storedName"`
}

// FileUploader: внешний сервис загрузки файлов (один запрос на файл).
type FileUploader interface {
	UploadFile(ctx context.Context, r io.Reader, meta FileMeta) (Stored, error)
}

// File: один файл из пачки загрузки.
type File struct {
	Name        string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// UploadResult: итог по одному файлу; ошибки одного файла не влияют на соседей.
type UploadResult struct {
	FileName string `json:"fileName"`
	Image    *Image `json:"image,omitempty"`
	Error    string `json:"error,omitempty"`
}

// List: разделяемый список картинок галереи одного поля.
// Каждое добавление делается атомарно: чтение, изменение, запись.
type List struct {
	mu     sync.Mutex
	images []Image
}

func NewList(images []Image) *List {
	return &List{images: Add(nil, images...)}
}

// Append добавляет картинку в конец, не затирая параллельные добавления.
func (l *List) Append(img Image) {
	l.mu.Lock()
	l.images = Add(l.images, img)
	l.mu.Unlock()
}

// Update применяет чистую функцию к списку под блокировкой.
func (l *List) Update(fn func([]Image) []Image) {
	l.mu.Lock()
	l.images = fn(l.images)
	l.mu.Unlock()
}

// Snapshot: копия текущего списка.
func (l *List) Snapshot() []Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Add(nil, l.images...)
}

// Uploader загружает файлы галереи параллельно.
type Uploader struct {
	svc FileUploader
	log logrus.FieldLogger
}

func NewUploader(svc FileUploader, log logrus.FieldLogger) *Uploader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Uploader{svc: svc, log: log}
}

// UploadAll загружает все файлы, по одному запросу на файл. Успешные
// сразу добавляются в list в порядке завершения. Результаты
// возвращаются в порядке входных файлов.
func (u *Uploader) UploadAll(ctx context.Context, meta FileMeta, files []File, list *List) []UploadResult {
	results := make([]UploadResult, len(files))
	var g errgroup.Group
	for i, f := range files {
		i, f := i, f
		results[i].FileName = f.Name
		g.Go(func() error {
			img, err := u.uploadOne(ctx, meta, f)
			if err != nil {
				u.log.WithFields(logrus.Fields{
					"table": meta.Table,
					"field": meta.Field,
					"file":  f.Name,
				}).WithError(err).Warn("gallery upload failed")
				results[i].Error = "upload failed: " + f.Name
				return nil
			}
			list.Append(img)
			results[i].Image = &img
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (u *Uploader) uploadOne(ctx context.Context, meta FileMeta, f File) (Image, error) {
	if f.Open == nil {
		return Image{}, errors.New("no content")
	}
	rc, err := f.Open()
	if err != nil {
		return Image{}, errors.Wrap(err, "open")
	}
	defer rc.Close()

	m := meta
	m.FileName = f.Name
	m.ContentType = f.ContentType
	st, err := u.svc.UploadFile(ctx, rc, m)
	if err != nil {
		return Image{}, errors.Wrapf(err, "upload %s", f.Name)
	}
	if st.URL == "" {
		return Image{}, errors.Errorf("upload %s: empty url in response", f.Name)
	}
	name := st.StoredName
	if name == "" {
		name = f.Name
	}
	return Image{
		ID:        uuid.NewString(),
		SourceURL: st.URL,
		FileName:  name,
	}, nil
}
