package model

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/ezoic/taxifare/pkg/errors"
)

// SaveModel gob-encodes model into filename.
//
// The encoding is written to a temporary file in the same directory and
// renamed into place, so filename either holds a complete artifact or is
// left untouched.
//
// Concrete component types stored behind interfaces must be registered
// with gob.Register; every package in this module does so in init.
//
// Example:
//
//	pipe := pipeline.NewPipeline(steps...)
//	// ... fit ...
//	err := model.SaveModel(pipe, "model.gob")
func SaveModel(model interface{}, filename string) (err error) {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = SaveModelToWriter(model, tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close file")
	}
	if err = os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrapf(err, "failed to move artifact to %s", filename)
	}
	return nil
}

// LoadModel decodes the artifact at filename into model, which must be a pointer.
//
// Example:
//
//	var pipe pipeline.Pipeline
//	err := model.LoadModel(&pipe, "model.gob")
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer func() { _ = file.Close() }()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter gob-encodes model into w.
func SaveModelToWriter(model interface{}, w io.Writer) error {
	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader decodes a model from r into model, which must be a pointer.
func LoadModelFromReader(model interface{}, r io.Reader) error {
	decoder := gob.NewDecoder(r)
	if err := decoder.Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
