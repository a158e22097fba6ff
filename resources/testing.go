package resources

import (
	"io/ioutil"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/trapline/trapline/config"
)

// InitTestResources creates a default testing resource bundle
func InitTestResources(t *testing.T) *Resources {
	conf, err := config.LoadTestingConfig()
	if err != nil {
		t.Fatalf("could not load testing config: %s", err)
	}

	logger := log.New()
	logger.Out = ioutil.Discard

	return &Resources{
		Config: conf,
		Log:    logger,
	}
}
