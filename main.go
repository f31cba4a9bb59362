/*
 * Copyright 2020-2021 the original author(https://github.com/wj596)
 *
 * <p>
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 * </p>
 */
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/juju/errors"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/service"
	"go-mirror-coordinator/storage"
	"go-mirror-coordinator/util/sys"
	"go-mirror-coordinator/web"
)

var (
	helpFlag   bool
	cfgPath    string
	statusFlag bool
)

func init() {
	flag.BoolVar(&helpFlag, "help", false, "this help")
	flag.StringVar(&cfgPath, "config", "app.yml", "application config file")
	flag.BoolVar(&statusFlag, "status", false, "display mirror records and exit")
	flag.Usage = usage
}

func main() {
	flag.Parse()
	if helpFlag {
		flag.Usage()
		return
	}

	// 初始化global
	err := global.Initialize(cfgPath)
	if err != nil {
		println(errors.ErrorStack(err))
		return
	}

	// 初始化Storage
	err = storage.InitStorage(global.Cfg())
	if err != nil {
		println(errors.ErrorStack(err))
		return
	}

	if statusFlag {
		doStatus()
		return
	}

	err = service.Initialize()
	if err != nil {
		println(errors.ErrorStack(err))
		return
	}

	if err := web.Initialize(); err != nil {
		println(errors.ErrorStack(err))
		return
	}

	global.StartMonitor()
	service.StartUp() // start application

	sys.WaitCloseSignals()
	log.Println("application stoped")

	web.Close()
	service.Close()
	storage.CloseStorage()
}

func doStatus() {
	records, err := storage.NewMirrorStorage().All()
	if err != nil {
		println(errors.ErrorStack(err))
		return
	}
	if len(records) == 0 {
		fmt.Println("no mirror records")
		return
	}
	for _, record := range records {
		fmt.Printf("%-40s %-10s attempts=%d %s\n",
			record.TableKey(), record.Status, record.AttemptCount, record.LastError)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `version: 1.0.0
Usage: coordinator [-config filename] [-status]

Options:
`)
	flag.PrintDefaults()
}
