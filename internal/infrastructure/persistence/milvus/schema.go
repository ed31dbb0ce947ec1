package milvus

import (
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	wfmodel "z-novel-writer/internal/workflow/model"
)

const (
	// CollectionPassages 知识库文档片段集合，三个知识分区对应三个 Milvus 分区
	CollectionPassages = "knowledge_passages"

	fieldID      = "id"
	fieldVector  = "vector"
	fieldSource  = "source"
	fieldOrdinal = "ordinal"
	fieldText    = "text"

	// DefaultDimension 未配置 embedding 维度时使用
	DefaultDimension = 1024
)

// PassagesSchema 文档片段 Collection Schema
func PassagesSchema(collection string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: collection,
		Description:    "Knowledge base passages for novel generation",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
			{
				Name:       fieldSource,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:     fieldOrdinal,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       fieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
		},
	}
}

// PartitionName 知识分区对应的 Milvus 分区名
func PartitionName(p wfmodel.Partition) string {
	return "part_" + string(p)
}
