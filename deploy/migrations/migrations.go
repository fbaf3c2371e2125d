package migrations

import "embed"

// Files 内嵌运行历史与 API Key 两张表的 SQL 迁移脚本，
// 由 internal/storage/mysql 在建立连接时按序应用。
//
//go:embed *.sql
var Files embed.FS
