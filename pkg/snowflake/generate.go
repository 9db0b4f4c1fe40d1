package snowflake

import (
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once

	errInvalidMachineID   = errors.New("invalid snowflake machine id")
	errGeneratorUninitial = errors.New("snowflake generator is not initialized")
)

// Init machineID 与 dataCenterID 各占 5 位
func Init(machineID, dataCenterID int64) error {
	var initErr error

	once.Do(func() {
		if machineID < 0 || machineID > 31 || dataCenterID < 0 || dataCenterID > 31 {
			initErr = errInvalidMachineID
			return
		}

		var err error
		node, err = snowflake.NewNode((dataCenterID << 5) | machineID)
		if err != nil {
			initErr = err
		}
	})

	return initErr
}

func NextID() (int64, error) {
	if node == nil {
		return 0, errGeneratorUninitial
	}
	return node.Generate().Int64(), nil
}

// NextMessageID 返回带前缀的字符串 ID，用作队列消息 ID 与派发引用
func NextMessageID(prefix string) (string, error) {
	if node == nil {
		return "", errGeneratorUninitial
	}
	return prefix + node.Generate().String(), nil
}
