// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build tools

package tools // import "github.com/drenlia/easy-kanban-sub014/tools"

import (
	_ "golang.org/x/tools/cmd/stringer"
	_ "mvdan.cc/gofumpt"
)

//go:generate go build -v -o ../bin/stringer golang.org/x/tools/cmd/stringer
//go:generate go build -v -o ../bin/gofumpt mvdan.cc/gofumpt
