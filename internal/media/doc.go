// Package media 维护媒体类型注册表：按标识符的扩展名判定 image/video/other，
// 并给出物化临时文件时使用的扩展名。配置中的 [[Kind]] 段可以追加扩展名或新增类型。
package media
