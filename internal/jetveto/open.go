package jetveto

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jetveto/internal/correction"
	"github.com/sells-group/jetveto/internal/resilience"
)

// DefaultPOGDir is the CVMFS location of the JSON POG integration files.
const DefaultPOGDir = "/cvmfs/cms.cern.ch/rsync/cms-nanoAOD/jsonpog-integration/"

// ArtifactPath returns the veto map file for era under pogDir.
func ArtifactPath(pogDir, era string) string {
	return filepath.Join(pogDir, "POG", "JME", era, "jetvetomaps.json.gz")
}

// LoadVetoMap reads the veto map file for era from pogDir and resolves
// correctionName inside it. Transient filesystem errors are retried; every
// other failure is an ErrConfig.
func LoadVetoMap(ctx context.Context, pogDir, era, correctionName string) (*correction.VetoMap, error) {
	if era == "" {
		return nil, eris.Wrap(ErrConfig, "era is required")
	}
	path := ArtifactPath(pogDir, era)

	rc := resilience.DefaultRetryConfig()
	rc.OnRetry = resilience.RetryLogger(path)
	set, err := resilience.DoVal(ctx, rc, func(context.Context) (*correction.Set, error) {
		return correction.Load(path)
	})
	if err != nil {
		return nil, eris.Wrapf(ErrConfig, "load %s: %v", path, err)
	}
	c, err := set.Get(correctionName)
	if err != nil {
		return nil, eris.Wrapf(ErrConfig, "%v", err)
	}
	vm, err := correction.NewVetoMap(c)
	if err != nil {
		return nil, eris.Wrapf(ErrConfig, "%v", err)
	}
	return vm, nil
}

// Open loads the veto map named by cfg from pogDir and returns a producer
// backed by it.
func Open(ctx context.Context, cfg Config, pogDir string) (*Producer, error) {
	log := zap.L().With(zap.String("era", cfg.Era), zap.String("correction", cfg.CorrectionName))
	log.Info("jetveto: loading veto map", zap.String("path", ArtifactPath(pogDir, cfg.Era)))

	vm, err := LoadVetoMap(ctx, pogDir, cfg.Era, cfg.CorrectionName)
	if err != nil {
		return nil, err
	}

	p, err := New(cfg, vm)
	if err != nil {
		return nil, err
	}
	log.Info("jetveto: veto map ready",
		zap.String("mode", string(p.Mode())),
		zap.Bool("is_mc", cfg.IsMC),
	)
	return p, nil
}
