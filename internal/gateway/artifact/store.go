// Package artifact locates model files. It prefers a mounted mirror of the
// object store when one is configured, falls back to a local download cache,
// and mirrors from GCS as a last resort. The gateway never writes artifacts;
// the fine-tuning pipeline is the only producer.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/pkg/logging"
)

const (
	mergedDir          = "merged"
	adapterDir         = "adapter"
	trainingConfigFile = "training_config.json"
)

// TrainingConfig is the record the fine-tuning job writes next to each
// adapter. BaseModel is the only field the gateway acts on; the rest is
// carried for diagnostics.
type TrainingConfig struct {
	BaseModel       string  `json:"base_model"`
	OutputModelName string  `json:"output_model_name"`
	LoraR           int     `json:"lora_r"`
	LoraAlpha       int     `json:"lora_alpha"`
	LoraDropout     float64 `json:"lora_dropout"`
	LearningRate    float64 `json:"learning_rate"`
	NumTrainEpochs  float64 `json:"num_train_epochs"`
	MaxSeqLength    int     `json:"max_seq_length"`
	Quantization    string  `json:"quantization"`
}

// Store resolves logical artifact paths to local directories.
type Store struct {
	fs      afero.Fs
	objects ObjectClient
	logger  logging.Interface

	prefix     string // object-store key prefix, e.g. "models/"
	mountPath  string // optional mounted mirror root
	localCache string // download cache root
}

// NewStore builds an artifact store. objects may be nil when the mount is the
// only source (local development against a FUSE volume).
func NewStore(fs afero.Fs, objects ObjectClient, prefix, mountPath, localCache string, logger logging.Interface) *Store {
	return &Store{
		fs:         fs,
		objects:    objects,
		logger:     logger,
		prefix:     strings.TrimSuffix(prefix, "/") + "/",
		mountPath:  mountPath,
		localCache: localCache,
	}
}

// Flatten converts a namespaced model name to its on-store directory name.
func Flatten(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

// BasePath returns the logical path of a base model artifact.
func (s *Store) BasePath(name string) string {
	return s.prefix + Flatten(name)
}

// VersionPath returns the logical path of a custom model's versioned
// artifact.
func (s *Store) VersionPath(name, label string) string {
	return s.prefix + name + "/" + label
}

func (s *Store) cachePath(logicalPath string) string {
	return filepath.Join(s.localCache, Flatten(strings.TrimPrefix(logicalPath, s.prefix)))
}

// preferMerged returns root/merged when that child directory exists,
// otherwise root. Fine-tune output keeps the fully merged weights there.
func (s *Store) preferMerged(root string) string {
	merged := filepath.Join(root, mergedDir)
	if ok, err := afero.DirExists(s.fs, merged); err == nil && ok {
		return merged
	}
	return root
}

// Locate returns a local directory holding a valid model artifact for the
// logical path, mirroring from the object store when necessary.
func (s *Store) Locate(ctx context.Context, logicalPath string) (string, error) {
	// 1. Mounted mirror, validated.
	if s.mountPath != "" {
		mounted := s.preferMerged(filepath.Join(s.mountPath, logicalPath))
		if IsValidModelDir(s.fs, mounted) {
			s.logger.WithField("path", mounted).Debug("Artifact served from mount")
			return mounted, nil
		}
	}

	// 2. Existing local cache copy.
	local := s.cachePath(logicalPath)
	if ok, err := afero.DirExists(s.fs, local); err == nil && ok {
		resolved := s.preferMerged(local)
		s.logger.WithField("path", resolved).Debug("Artifact served from local cache")
		return resolved, nil
	}

	// 3. Mirror from the object store.
	return s.mirror(ctx, logicalPath, local)
}

// LocateAdapter returns the adapter subdirectory of a fine-tuned artifact.
func (s *Store) LocateAdapter(ctx context.Context, logicalPath string) (string, error) {
	adapterPath := path.Join(logicalPath, adapterDir)

	if s.mountPath != "" {
		mounted := filepath.Join(s.mountPath, adapterPath)
		if ok, err := afero.DirExists(s.fs, mounted); err == nil && ok {
			return mounted, nil
		}
	}

	local := filepath.Join(s.cachePath(logicalPath), adapterDir)
	if ok, err := afero.DirExists(s.fs, local); err == nil && ok {
		return local, nil
	}

	return s.mirror(ctx, adapterPath, local)
}

// ReadTrainingConfig reads the training record for an artifact. A missing
// record returns (nil, nil): the artifact is a plain base model.
func (s *Store) ReadTrainingConfig(ctx context.Context, logicalPath string) (*TrainingConfig, error) {
	candidates := []string{}
	if s.mountPath != "" {
		candidates = append(candidates, filepath.Join(s.mountPath, logicalPath, trainingConfigFile))
	}
	candidates = append(candidates, filepath.Join(s.cachePath(logicalPath), trainingConfigFile))

	for _, candidate := range candidates {
		if ok, err := afero.Exists(s.fs, candidate); err == nil && ok {
			return s.decodeTrainingConfig(candidate)
		}
	}

	if s.objects == nil {
		return nil, nil
	}

	// Pull just the one object; absence means base model.
	object := path.Join(logicalPath, trainingConfigFile)
	reader, err := s.objects.Open(ctx, object)
	if err != nil {
		if errors.Is(err, apierror.ErrArtifactNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading %s", object)
	}
	defer func() { _ = reader.Close() }()

	local := filepath.Join(s.cachePath(logicalPath), trainingConfigFile)
	if err := s.writeFile(local, reader); err != nil {
		return nil, err
	}
	return s.decodeTrainingConfig(local)
}

func (s *Store) decodeTrainingConfig(localFile string) (*TrainingConfig, error) {
	data, err := afero.ReadFile(s.fs, localFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", localFile)
	}
	cfg := &TrainingConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", localFile)
	}
	return cfg, nil
}

// mirror copies every object under logicalPath into local, preserving
// relative paths. Partial downloads are removed on failure.
func (s *Store) mirror(ctx context.Context, logicalPath, local string) (string, error) {
	if s.objects == nil {
		return "", apierror.New("locate", logicalPath, apierror.ErrArtifactNotFound)
	}

	gcsPath := logicalPath

	// The fine-tune job writes fully merged weights to a merged/ child;
	// prefer it when present.
	if path.Base(logicalPath) != adapterDir {
		mergedBlobs, err := s.objects.List(ctx, path.Join(logicalPath, mergedDir)+"/", 1)
		if err != nil {
			return "", errors.Wrapf(err, "listing %s", logicalPath)
		}
		if len(mergedBlobs) > 0 {
			gcsPath = path.Join(logicalPath, mergedDir)
			local = filepath.Join(local, mergedDir)
			s.logger.WithField("path", gcsPath).Info("Using merged artifact subdirectory")
		}
	}

	blobs, err := s.objects.List(ctx, gcsPath+"/", 0)
	if err != nil {
		return "", errors.Wrapf(err, "listing %s", gcsPath)
	}
	if len(blobs) == 0 {
		return "", apierror.New("locate", logicalPath, apierror.ErrArtifactNotFound)
	}

	s.logger.WithField("path", gcsPath).Infof("Mirroring %d objects into local cache", len(blobs))

	if err := s.downloadAll(ctx, gcsPath, local, blobs); err != nil {
		// Partial downloads must not masquerade as a cached artifact.
		if rmErr := s.fs.RemoveAll(local); rmErr != nil {
			s.logger.WithError(rmErr).WithField("path", local).Warn("Failed to clean up partial download")
		}
		return "", err
	}

	// An object set missing config.json or weights must not be served as a
	// located artifact.
	if path.Base(gcsPath) != adapterDir && !IsValidModelDir(s.fs, local) {
		if rmErr := s.fs.RemoveAll(local); rmErr != nil {
			s.logger.WithError(rmErr).WithField("path", local).Warn("Failed to clean up incomplete artifact")
		}
		return "", apierror.New("locate", logicalPath, apierror.ErrArtifactNotFound)
	}

	return local, nil
}

func (s *Store) downloadAll(ctx context.Context, gcsPath, local string, blobs []string) error {
	for _, blob := range blobs {
		relative := strings.TrimPrefix(strings.TrimPrefix(blob, gcsPath), "/")
		if relative == "" {
			continue
		}

		reader, err := s.objects.Open(ctx, blob)
		if err != nil {
			return errors.Wrapf(err, "downloading %s", blob)
		}

		target := filepath.Join(local, filepath.FromSlash(relative))
		err = s.writeFile(target, reader)
		_ = reader.Close()
		if err != nil {
			return err
		}
		s.logger.WithField("object", blob).Debug("Downloaded")
	}
	return nil
}

func (s *Store) writeFile(target string, r io.Reader) error {
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(target))
	}
	f, err := s.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", target)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}
