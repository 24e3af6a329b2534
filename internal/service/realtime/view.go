package realtime

import (
	"sort"
	"time"

	orderdomain "tableside/internal/service/order/domain"
	requestdomain "tableside/internal/service/request/domain"
)

// Outcome 描述一次 Apply 对视图造成的影响
type Outcome struct {
	Event ChangeEvent
	// Applied 表示视图发生了变化
	Applied bool
	// Inserted 表示第一次见到的实体以 insert 事件进入活跃集合
	Inserted bool
	// Removed 表示实体从活跃集合中移除
	Removed   bool
	Stale     bool
	Duplicate bool
	// Ignored 表示事件不属于该通道
	Ignored bool
}

// View 是一个角色客户端持有的物化视图。
// 它是纯粹的状态归并，不做任何 I/O，也不加锁，由单个消费者顺序调用。
type View struct {
	orders   map[string]orderdomain.Order
	requests map[string]requestdomain.ServiceRequest
	// 已进入终态的订单仍然可以按 id 查询
	closed   map[string]orderdomain.Order
	settings *orderdomain.RestaurantSettings
	// versions 记录每个实体最后一次被接受的 updated_at，移除后保留作为墓碑
	versions map[EntityKey]time.Time
}

func NewView() *View {
	return &View{
		orders:   make(map[string]orderdomain.Order),
		requests: make(map[string]requestdomain.ServiceRequest),
		closed:   make(map[string]orderdomain.Order),
		versions: make(map[EntityKey]time.Time),
	}
}

// Apply 以服务端时间戳做 last-writer-wins 合并。
// 重复事件和乱序到达的旧事件都不会改变视图。
func (v *View) Apply(ev ChangeEvent) Outcome {
	out := Outcome{Event: ev}
	key := ev.Key()

	if held, ok := v.versions[key]; ok {
		if ev.UpdatedAt.Before(held) {
			out.Stale = true
			return out
		}
		if ev.UpdatedAt.Equal(held) {
			out.Duplicate = true
			return out
		}
	}
	_, seen := v.versions[key]
	v.versions[key] = ev.UpdatedAt

	switch ev.EntityType {
	case EntityRestaurantSettings:
		if ev.Settings != nil {
			s := *ev.Settings
			v.settings = &s
		}
		out.Applied = true
		return out
	case EntityOrder:
		return v.applyOrder(ev, seen, out)
	case EntityServiceRequest:
		return v.applyRequest(ev, seen, out)
	}
	return out
}

func (v *View) applyOrder(ev ChangeEvent, seen bool, out Outcome) Outcome {
	_, present := v.orders[ev.EntityID]
	if ev.Operation == OpDelete || ev.IsTerminal() {
		delete(v.orders, ev.EntityID)
		if ev.Order != nil {
			v.closed[ev.EntityID] = *ev.Order
		}
		out.Applied = present || ev.Order != nil
		out.Removed = present
		return out
	}

	v.orders[ev.EntityID] = *ev.Order
	out.Applied = true
	out.Inserted = ev.Operation == OpInsert && !present && !seen
	return out
}

func (v *View) applyRequest(ev ChangeEvent, seen bool, out Outcome) Outcome {
	_, present := v.requests[ev.EntityID]
	if ev.Operation == OpDelete || ev.IsTerminal() {
		delete(v.requests, ev.EntityID)
		out.Applied = present
		out.Removed = present
		return out
	}

	v.requests[ev.EntityID] = *ev.Request
	out.Applied = true
	out.Inserted = ev.Operation == OpInsert && !present && !seen
	return out
}

// ApplyBuffered 应用快照期间缓存的事件。
// fresh 是这次快照首次带进视图的实体：它们的 insert 事件即使与快照版本相同，
// 也仍然算作新进入，否则在同步窗口内创建的实体永远不会触发提醒。
func (v *View) ApplyBuffered(ev ChangeEvent, fresh map[EntityKey]bool) Outcome {
	out := v.Apply(ev)
	key := ev.Key()
	if ev.Operation == OpInsert && !out.Inserted && fresh[key] && v.active(key) {
		out.Inserted = true
		delete(fresh, key)
	}
	return out
}

func (v *View) active(key EntityKey) bool {
	switch key.Type {
	case EntityOrder:
		_, ok := v.orders[key.ID]
		return ok
	case EntityServiceRequest:
		_, ok := v.requests[key.ID]
		return ok
	}
	return false
}

// Load 用一次全量快照替换活跃集合，返回这次快照首次带进视图的活跃实体。
// 快照中没有的实体视为在断线期间已经结束；比快照更新的本地版本会被保留。
func (v *View) Load(orders []orderdomain.Order, requests []requestdomain.ServiceRequest, loadOrders, loadRequests bool) map[EntityKey]bool {
	fresh := make(map[EntityKey]bool)
	if loadOrders {
		next := make(map[string]orderdomain.Order, len(orders))
		for _, o := range orders {
			key := EntityKey{Type: EntityOrder, ID: o.ID}
			if held, ok := v.versions[key]; ok && held.After(o.UpdatedAt) {
				if cur, ok := v.orders[o.ID]; ok {
					next[o.ID] = cur
				}
				continue
			}
			_, known := v.versions[key]
			v.versions[key] = o.UpdatedAt
			if o.Status.IsTerminal() {
				v.closed[o.ID] = o
				continue
			}
			if !known {
				fresh[key] = true
			}
			next[o.ID] = o
		}
		v.orders = next
	}
	if loadRequests {
		next := make(map[string]requestdomain.ServiceRequest, len(requests))
		for _, r := range requests {
			key := EntityKey{Type: EntityServiceRequest, ID: r.ID}
			if held, ok := v.versions[key]; ok && held.After(r.UpdatedAt) {
				if cur, ok := v.requests[r.ID]; ok {
					next[r.ID] = cur
				}
				continue
			}
			_, known := v.versions[key]
			v.versions[key] = r.UpdatedAt
			if r.Status.IsTerminal() {
				continue
			}
			if !known {
				fresh[key] = true
			}
			next[r.ID] = r
		}
		v.requests = next
	}
	return fresh
}

// ActiveOrders 按创建时间排序返回活跃订单
func (v *View) ActiveOrders() []orderdomain.Order {
	out := make([]orderdomain.Order, 0, len(v.orders))
	for _, o := range v.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (v *View) ActiveRequests() []requestdomain.ServiceRequest {
	out := make([]requestdomain.ServiceRequest, 0, len(v.requests))
	for _, r := range v.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PendingRequestCount 是员工端角标上的待处理数
func (v *View) PendingRequestCount() int {
	n := 0
	for _, r := range v.requests {
		if r.Status == requestdomain.StatusPending {
			n++
		}
	}
	return n
}

// LookupOrder 在活跃集合和已结束集合中查找订单
func (v *View) LookupOrder(id string) (orderdomain.Order, bool) {
	if o, ok := v.orders[id]; ok {
		return o, true
	}
	o, ok := v.closed[id]
	return o, ok
}

func (v *View) LookupRequest(id string) (requestdomain.ServiceRequest, bool) {
	r, ok := v.requests[id]
	return r, ok
}

func (v *View) Settings() (orderdomain.RestaurantSettings, bool) {
	if v.settings == nil {
		return orderdomain.RestaurantSettings{}, false
	}
	return *v.settings, true
}
