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
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/util/logs"
	"go-mirror-coordinator/util/nets"
)

var _server *http.Server

func Initialize() error {
	handler := buildHandler()

	listen := fmt.Sprintf(":%d", global.Cfg().WebPort)
	_server = &http.Server{
		Addr:           listen,
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if ok, err := nets.IsUsableTcpAddr(listen); !ok {
		return err
	}

	go func() {
		logs.Infof("健康检查服务监听于%s", listen)
		if err := _server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Error(err.Error())
		}
	}()

	return nil
}

func buildHandler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	handler := gin.New()
	handler.Use(gin.Recovery())

	initHealthAction(handler)
	initMirrorAction(handler)

	return handler
}

func Close() {
	if _server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), global.Cfg().ShutdownGrace())
	defer cancel()
	if err := _server.Shutdown(ctx); err != nil {
		logs.Error(err.Error())
	}
}
