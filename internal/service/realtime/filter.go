package realtime

import orderdomain "tableside/internal/service/order/domain"

// Filter 决定一个角色通道接收哪些事件
type Filter struct {
	RestaurantID string
	Entities     map[EntityType]bool
}

// FilterFor 按角色构造过滤器。
// 终态订单的事件仍然放行，视图收到后会把它移出活跃集合。
func FilterFor(role orderdomain.Role, restaurantID string) Filter {
	f := Filter{RestaurantID: restaurantID, Entities: map[EntityType]bool{}}
	switch role {
	case orderdomain.RoleKitchen:
		f.Entities[EntityOrder] = true
	case orderdomain.RoleStaff:
		f.Entities[EntityOrder] = true
		f.Entities[EntityServiceRequest] = true
	case orderdomain.RoleCashier:
		f.Entities[EntityRestaurantSettings] = true
	case orderdomain.RoleManager, orderdomain.RoleOwner:
		f.Entities[EntityOrder] = true
		f.Entities[EntityServiceRequest] = true
		f.Entities[EntityRestaurantSettings] = true
	}
	return f
}

func (f Filter) Allows(ev ChangeEvent) bool {
	return ev.RestaurantID == f.RestaurantID && f.Entities[ev.EntityType]
}

// Wants 报告该通道是否需要某类实体的快照
func (f Filter) Wants(t EntityType) bool { return f.Entities[t] }
