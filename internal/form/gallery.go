package form

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/gallery"
	"kalitaforms/internal/lightbox"
)

// galleryField проверяет, что field таблицы table является галереей.
func (e *Engine) galleryField(ctx context.Context, table, field string) (*dsl.Table, error) {
	schema, err := e.svc.TableSchema(ctx, table)
	if err != nil {
		return nil, errors.Wrapf(err, "load schema %s", table)
	}
	f, ok := schema.Field(field)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "field %s.%s", table, field)
	}
	if !f.Gallery {
		return nil, errors.Errorf("field %s.%s is not a gallery", table, field)
	}
	return schema, nil
}

// UploadImages загружает files в галерею поля. Для сохранённой записи
// итоговый список сразу пишется в неё; при recordID == "" (черновик новой
// записи) список только возвращается, а current задаёт то, что уже в форме.
// Неудачные файлы не мешают остальным: их ошибки в результатах.
//
// Файлы грузятся без блокировки. Чтение записи, дописывание и сохранение
// идут под блокировкой поля, поэтому параллельные загрузки в одну галерею
// не затирают друг друга.
func (e *Engine) UploadImages(ctx context.Context, table, recordID, field string, current any, files []gallery.File) ([]gallery.Image, []gallery.UploadResult, error) {
	if _, err := e.galleryField(ctx, table, field); err != nil {
		return nil, nil, err
	}

	fresh := gallery.NewList(nil)
	meta := gallery.FileMeta{Table: table, RecordID: recordID, Field: field}
	results := e.uploader.UploadAll(ctx, meta, files, fresh)

	uploaded := 0
	for _, r := range results {
		if r.Error == "" {
			uploaded++
		}
	}

	var images []gallery.Image
	if recordID == "" {
		images = gallery.Add(gallery.Parse(current), fresh.Snapshot()...)
	} else {
		unlock := e.galleryLocks.lock(galleryKey(table, recordID, field))
		defer unlock()

		rec, err := e.svc.GetRecord(ctx, table, recordID)
		if err != nil {
			return nil, results, errors.Wrapf(err, "load record %s/%s", table, recordID)
		}
		images = gallery.Add(gallery.Parse(rec[field]), fresh.Snapshot()...)
		if uploaded > 0 {
			if err := e.persistGallery(ctx, table, recordID, field, images); err != nil {
				return nil, results, err
			}
		}
	}
	e.log.WithFields(logrus.Fields{
		"table": table, "record": recordID, "field": field,
		"uploaded": uploaded, "failed": len(results) - uploaded,
	}).Info("gallery upload finished")
	return images, results, nil
}

// RemoveImage удаляет картинку index. Индекс вне диапазона ничего не меняет.
func (e *Engine) RemoveImage(ctx context.Context, table, recordID, field string, index int) ([]gallery.Image, error) {
	return e.mutateGallery(ctx, table, recordID, field, func(in []gallery.Image) []gallery.Image {
		return gallery.RemoveAt(in, index)
	})
}

// ClearGallery очищает галерею поля.
func (e *Engine) ClearGallery(ctx context.Context, table, recordID, field string) ([]gallery.Image, error) {
	return e.mutateGallery(ctx, table, recordID, field, func([]gallery.Image) []gallery.Image {
		return gallery.Clear()
	})
}

func (e *Engine) mutateGallery(ctx context.Context, table, recordID, field string, fn func([]gallery.Image) []gallery.Image) ([]gallery.Image, error) {
	if _, err := e.galleryField(ctx, table, field); err != nil {
		return nil, err
	}
	unlock := e.galleryLocks.lock(galleryKey(table, recordID, field))
	defer unlock()

	rec, err := e.svc.GetRecord(ctx, table, recordID)
	if err != nil {
		return nil, errors.Wrapf(err, "load record %s/%s", table, recordID)
	}
	images := fn(gallery.Parse(rec[field]))
	if err := e.persistGallery(ctx, table, recordID, field, images); err != nil {
		return nil, err
	}
	return images, nil
}

// Lightbox открывает просмотр галереи поля на картинке index и делает шаг
// step. При recordID == "" картинки берутся из current.
func (e *Engine) Lightbox(ctx context.Context, table, recordID, field string, current any, index int, step lightbox.Step) (lightbox.View, error) {
	if _, err := e.galleryField(ctx, table, field); err != nil {
		return lightbox.View{}, err
	}
	value := current
	if recordID != "" {
		rec, err := e.svc.GetRecord(ctx, table, recordID)
		if err != nil {
			return lightbox.View{}, errors.Wrapf(err, "load record %s/%s", table, recordID)
		}
		value = rec[field]
	}

	nav := lightbox.New(gallery.Parse(value))
	if !nav.Open(index) {
		return lightbox.View{}, errors.Wrapf(ErrNotFound, "image %d of %s.%s (%d images)", index, table, field, nav.Len())
	}
	nav.Move(step)
	v, _ := nav.View(e.urls)
	return v, nil
}

func (e *Engine) persistGallery(ctx context.Context, table, recordID, field string, images []gallery.Image) error {
	patch := map[string]any{field: gallery.Serialize(images)}
	if err := e.svc.UpdateRecord(ctx, table, recordID, patch); err != nil {
		return errors.Wrapf(err, "save gallery %s/%s.%s", table, recordID, field)
	}
	return nil
}

func galleryKey(table, recordID, field string) string {
	return table + "\x00" + recordID + "\x00" + field
}

// keyLocks: мьютекс на ключ. Запись удаляется, когда её никто не держит.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = map[string]*keyLock{}
	}
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
