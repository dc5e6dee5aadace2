package main

import (
	"flag"

	"github.com/joripage/matchcore/config"
	"github.com/joripage/matchcore/pkg/infra"
)

func main() {
	var configFile, source string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&source, "source", "file://migration/sql", "Migration source")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.OmsDB == nil {
		panic("oms_db is not configured")
	}

	mgTool := infra.GetMigrateTool()
	if err := mgTool.Migrate(source, cfg.OmsDB.MigrationConnURL); err != nil {
		panic(err)
	}
}
