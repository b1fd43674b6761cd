// Package web 内嵌页面模板与静态资源。
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates static
var files embed.FS

// Templates 返回模板文件系统，根目录下为 templates/。
func Templates() fs.FS {
	return files
}

// Static 返回静态资源文件系统，根目录即 static/ 的内容。
func Static() fs.FS {
	sub, err := fs.Sub(files, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
