// Package editor holds the image list of a post being edited: the images
// already attached to the post followed by files picked locally and not yet
// uploaded.
package editor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/onnwee/gramfront/internal/upload"
)

// ErrIndexOutOfRange is returned when an index is not within [0, len).
var ErrIndexOutOfRange = errors.New("index out of range")

// PendingFile is a locally attached image that has not been uploaded yet.
// ID identifies the file across reorderings.
type PendingFile struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
}

// NewPendingFile wraps picked file bytes with a fresh ID.
func NewPendingFile(name, contentType string, data []byte) *PendingFile {
	return &PendingFile{
		ID:          uuid.New().String(),
		Name:        name,
		ContentType: contentType,
		Data:        data,
	}
}

// Object converts the file into an upload batch entry.
func (f *PendingFile) Object() upload.Object {
	return upload.Object{
		Filename:    f.Name,
		ContentType: f.ContentType,
		Data:        f.Data,
	}
}

// EditState is a two-segment ordered sequence of images. Originals are refs
// the server already knows; Pending are local files. The submitted order is
// always Originals followed by the uploaded refs of Pending, in Pending order.
// Neither segment can interleave with the other.
type EditState struct {
	Originals []string
	Pending   []*PendingFile
}

// Sequence returns the submitted order given the refs uploaded for Pending.
func (s EditState) Sequence(uploaded []string) []string {
	out := make([]string, 0, len(s.Originals)+len(uploaded))
	out = append(out, s.Originals...)
	return append(out, uploaded...)
}

// Clone copies both segments so the copy can be read while s changes.
// PendingFile values are shared.
func (s EditState) Clone() EditState {
	return EditState{
		Originals: slices.Clone(s.Originals),
		Pending:   slices.Clone(s.Pending),
	}
}

// AddFiles appends files in their given order.
func (s *EditState) AddFiles(files ...*PendingFile) {
	s.Pending = append(s.Pending, files...)
}

// RemoveOriginal drops the original ref at i and closes the gap.
func (s *EditState) RemoveOriginal(i int) error {
	if err := checkIndex(i, len(s.Originals)); err != nil {
		return err
	}
	s.Originals = slices.Delete(s.Originals, i, i+1)
	return nil
}

// RemoveFile drops the pending file at i and closes the gap.
func (s *EditState) RemoveFile(i int) error {
	if err := checkIndex(i, len(s.Pending)); err != nil {
		return err
	}
	s.Pending = slices.Delete(s.Pending, i, i+1)
	return nil
}

// SwapOriginal exchanges the original refs at i and j.
func (s *EditState) SwapOriginal(i, j int) error {
	if err := checkIndex(i, len(s.Originals)); err != nil {
		return err
	}
	if err := checkIndex(j, len(s.Originals)); err != nil {
		return err
	}
	s.Originals[i], s.Originals[j] = s.Originals[j], s.Originals[i]
	return nil
}

// SwapFile exchanges the pending files at i and j.
func (s *EditState) SwapFile(i, j int) error {
	if err := checkIndex(i, len(s.Pending)); err != nil {
		return err
	}
	if err := checkIndex(j, len(s.Pending)); err != nil {
		return err
	}
	s.Pending[i], s.Pending[j] = s.Pending[j], s.Pending[i]
	return nil
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, n)
	}
	return nil
}
