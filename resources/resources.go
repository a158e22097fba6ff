package resources

import (
	"fmt"
	"os"

	"github.com/pbnjay/memory"
	log "github.com/sirupsen/logrus"

	"github.com/trapline/trapline/config"
)

//minimumMemory is the total system memory below which a warning is logged.
//Session buffers for busy sensors can grow into the hundreds of megabytes.
const minimumMemory = 512 * 1024 * 1024

type (
	// Resources provides a data structure for passing system Resources
	Resources struct {
		Config *config.Config
		Log    *log.Logger
	}
)

// InitResources grabs the configuration file and intitializes the configuration data
// returning a *Resources object which has all of the necessary configuration information
func InitResources(userConfig string) *Resources {
	conf, err := config.LoadConfig(userConfig)
	if err != nil {
		fmt.Fprintf(os.Stdout, "Failed to config: %s\n", err.Error())
		os.Exit(-1)
	}

	// Fire up the logging system
	logger := initLogger(&conf.S.Log)
	if conf.S.Log.LogToFile {
		if err := addFileLogger(logger, conf.S.Log.LogPath); err != nil {
			fmt.Fprintf(os.Stdout, "Could not initialize file logger: %s\n", err.Error())
		}
	}

	if total := memory.TotalMemory(); total < minimumMemory {
		logger.WithFields(log.Fields{
			"total_memory": total,
		}).Warn("System has less than 512MB of memory; session buffers may exhaust it")
	}

	//bundle up the system resources
	r := &Resources{
		Config: conf,
		Log:    logger,
	}
	return r
}
